// Command checkin runs a student's attendance verification for one session against the API,
// reading camera frames from image files.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/face"
	"github.com/trezcool/presence/core/geo"
	"github.com/trezcool/presence/core/media"
	"github.com/trezcool/presence/core/qrproof"
	"github.com/trezcool/presence/core/verification"
	attendancesvc "github.com/trezcool/presence/services/attendance"
	facemodelsvc "github.com/trezcool/presence/services/facemodel"
	logsvc "github.com/trezcool/presence/services/logger"
)

type options struct {
	sessionID string
	token     string
	lat, lon  float64
	accuracy  float64
	frames    string
	qr        string
}

func parseOptions(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("checkin", flag.ContinueOnError)
	fs.StringVar(&opts.sessionID, "session", "", "The session ID.")
	fs.StringVar(&opts.token, "token", os.Getenv("PRESENCE_TOKEN"), "The student's API token (defaults to $PRESENCE_TOKEN).")
	fs.Float64Var(&opts.lat, "lat", math.NaN(), "Current latitude (geofence).")
	fs.Float64Var(&opts.lon, "lon", math.NaN(), "Current longitude (geofence).")
	fs.Float64Var(&opts.accuracy, "accuracy", 10, "Position accuracy in meters.")
	fs.StringVar(&opts.frames, "frames", "", "Face frames: an image or a directory of images (face).")
	fs.StringVar(&opts.qr, "qr", "", "A photo of the classroom QR code (qr).")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.sessionID == "" || opts.token == "" {
		fs.Usage()
		return options{}, errors.New("-session and -token are required")
	}
	return opts, nil
}

// studentID reads the subject of the API token. The API verifies the signature.
func studentID(token string) (string, error) {
	var claims jwt.StandardClaims
	if _, _, err := new(jwt.Parser).ParseUnverified(token, &claims); err != nil {
		return "", errors.Wrap(err, "parsing token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// buildSteps sets up every factor the given options make available on this machine.
func buildSteps(conf *core.Config, logger core.Logger, client *attendancesvc.Client, student string, opts options, out io.Writer) (*verification.Builder, error) {
	b := &verification.Builder{}

	if !math.IsNaN(opts.lat) && !math.IsNaN(opts.lon) {
		b.Geofence = &verification.GeofenceStep{
			Positions: fixedPosition{pos: &geo.Position{
				Point:    geo.Point{Latitude: opts.lat, Longitude: opts.lon},
				Accuracy: opts.accuracy,
			}},
			Locator:       client,
			DefaultRadius: conf.Geofence.DefaultRadius,
		}
	}

	if opts.frames != "" {
		cam, err := newFileCamera(opts.frames)
		if err != nil {
			return nil, err
		}
		b.Face = &verification.FaceStep{
			Camera:           media.NewExclusiveCamera(cam),
			Detector:         facemodelsvc.NewDetector(conf, logger),
			Matcher:          face.NewMatcher(conf.Face.MatchThreshold),
			Challenger:       face.NewChallenger(conf.Face.EARThreshold, conf.Face.SmileThreshold),
			MatchInterval:    conf.Face.MatchInterval,
			LivenessInterval: conf.Face.LivenessInterval,
			OnChallenge: func(c face.Challenge) {
				fmt.Fprintf(out, "liveness: %s\n", c.Hint())
			},
		}
	}

	if opts.qr != "" {
		cam, err := newFileCamera(opts.qr)
		if err != nil {
			return nil, err
		}
		b.QR = &verification.QRStep{
			StudentID: student,
			Scanner:   qrproof.NewCameraScanner(media.NewExclusiveCamera(cam)),
			Redeemer:  client,
		}
	}

	// no platform authenticator on the command line: BIOMETRIC is dropped
	return b, nil
}

func printEvent(out io.Writer) verification.Listener {
	return func(ev verification.Event) {
		switch ev.Type {
		case verification.EventStepResult:
			if ev.Result != nil {
				fmt.Fprintf(out, "%-10s verified=%t\n", ev.Result.Kind, ev.Result.Verified)
			}
			if ev.Err != nil {
				fmt.Fprintf(out, "%-10s %s\n", ev.Status.Kind, hint(ev.Err))
			}
		case verification.EventStateChange:
			if ev.Status.State == verification.StateStep {
				fmt.Fprintf(out, "step %d: %s\n", ev.Status.Index+1, ev.Status.Kind)
			} else {
				fmt.Fprintf(out, "%s\n", ev.Status.State)
			}
		}
	}
}

// hint is what the student reads for err.
func hint(err error) string {
	if vErr, ok := core.AsVerificationError(err); ok {
		return fmt.Sprintf("%s: %s", vErr.Reason, vErr.Hint)
	}
	return err.Error()
}

func run(ctx context.Context, conf *core.Config, logger core.Logger, args []string, out io.Writer) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}
	student, err := studentID(opts.token)
	if err != nil {
		return err
	}

	client := attendancesvc.NewClient(conf, logger, opts.token)
	sess, err := client.Session(ctx, opts.sessionID)
	if err != nil {
		return errors.New(hint(err))
	}

	builder, err := buildSteps(conf, logger, client, student, opts, out)
	if err != nil {
		return err
	}
	steps, err := builder.Build(ctx, &sess)
	if err != nil {
		return err
	}

	o, err := verification.NewOrchestrator(&sess, steps, client, verification.Options{
		StepTimeout: conf.Step.Timeout,
		Logger:      logger,
		Listeners:   []verification.Listener{printEvent(out)},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		o.Stop()
	}()
	if err := o.Run(ctx); err != nil {
		return errors.New(hint(err))
	}
	fmt.Fprintf(out, "attendance marked for session %s\n", sess.ID)
	return nil
}

func main() {
	std := log.New(os.Stderr, "CHECKIN : ", log.LstdFlags)
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(std, conf)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, logger, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
