package logsvc

import (
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/presence/core"
)

// RollbarLogger reports to Rollbar and mirrors every entry to a std logger.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(!conf.Debug && !conf.TestMode && conf.RollbarToken != "")
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// split pulls the caller out of args; rollbar attributes the item to it and the rest is sent as is.
func split(msg string, args []interface{}) (items []interface{}, caller *core.Identity) {
	items = append(make([]interface{}, 0, len(args)+1), msg)
	for _, arg := range args {
		if id, ok := arg.(core.Identity); ok {
			if caller == nil {
				caller = &id
			}
			continue
		}
		items = append(items, arg)
	}
	return items, caller
}

func (l RollbarLogger) log(level, msg string, args []interface{}) {
	items, caller := split(msg, args)
	if caller != nil {
		rollbar.SetPerson(caller.ID, caller.Role, "")
	} else {
		rollbar.ClearPerson()
	}
	rollbar.Log(level, items...)

	l.std.Printf("%s: %s\n", level, msg)
	for _, item := range items[1:] {
		l.std.Printf("%+v\n", item)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) { l.log(rollbar.DEBUG, msg, args) }
func (l RollbarLogger) Info(msg string, args ...interface{})  { l.log(rollbar.INFO, msg, args) }
func (l RollbarLogger) Warn(msg string, args ...interface{})  { l.log(rollbar.WARN, msg, args) }
func (l RollbarLogger) Error(msg string, args ...interface{}) { l.log(rollbar.ERR, msg, args) }

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(rollbar.CRIT, msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}
