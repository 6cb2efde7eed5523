package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	echoapi "github.com/trezcool/presence/apps/api/echo"
	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/attendance"
	"github.com/trezcool/presence/core/verification"
)

func (cli *commandLine) purge(age time.Duration) error {
	n, err := cli.ledger.Purge(context.Background(), core.NowFunc().Add(-age))
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d redemption(s) deleted\n", n)
	return nil
}

func (cli *commandLine) startSession(teacherID string, in attendance.StartSessionInput) error {
	sess, err := cli.svc.StartSession(context.Background(), teacherID, in)
	if err != nil {
		var vErr *core.ValidationError
		if errors.As(err, &vErr) && len(vErr.Fields) > 0 {
			return errors.Errorf("%s: %s", vErr.Fields[0].Field, vErr.Fields[0].Error)
		}
		return err
	}
	fmt.Fprintf(cli.out, "session %s started: steps %s, expires %s\n",
		sess.ID, joinSteps(sess.EnabledSteps), sess.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (cli *commandLine) stopSession(id string) error {
	if err := cli.svc.StopSession(context.Background(), "", id); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "session %s stopped\n", id)
	return nil
}

func (cli *commandLine) marks(sessionID string) error {
	marks, err := cli.svc.Marks(context.Background(), "", sessionID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT\tMARKED AT\tSTEPS")
	for _, m := range marks {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.StudentID, m.MarkedAt.Format(time.RFC3339), joinSteps(m.Steps))
	}
	return w.Flush()
}

func (cli *commandLine) token(sub, role string, ttl time.Duration) error {
	switch role {
	case echoapi.RoleStudent, echoapi.RoleTeacher, echoapi.RoleAdmin:
	default:
		return errors.Errorf("unknown role %q", role)
	}
	tok, err := echoapi.GenerateToken(cli.conf, echoapi.NewClaims(cli.conf, sub, role, ttl))
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, tok)
	return nil
}

func joinSteps(kinds []verification.StepKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ",")
}
