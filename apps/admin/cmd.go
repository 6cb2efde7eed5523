package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/attendance"
	"github.com/trezcool/presence/core/geo"
	"github.com/trezcool/presence/core/qrproof"
	"github.com/trezcool/presence/core/verification"
)

var (
	isTerminalFunc = term.IsTerminal // mockable
	readAnswerFunc = readAnswer      // mockable

	errHelp         = errors.New("help provided")
	errNotConfirmed = errors.New("not confirmed")
	errNoSQL        = errors.New("migrate needs a postgres or sqlite3 storage engine")
)

type commandLine struct {
	conf   *core.Config
	db     *sqlx.DB // nil unless the storage engine is SQL
	svc    *attendance.Service
	ledger qrproof.Ledger
	out    io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS]                                  - run a goose migration command (up, down, status, ...)")
	fmt.Println("  purge -before DURATION [-yes]                           - delete QR redemptions older than DURATION")
	fmt.Println("  startsession -teacher ID -class ID -steps LIST [...]    - open an attendance session")
	fmt.Println("  stopsession -session ID                                 - stop a session and notify its room")
	fmt.Println("  marks -session ID                                       - list a session's attendance marks")
	fmt.Println("  token -sub ID -role ROLE [-ttl DURATION]                - print an API token for local testing")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	purgeCmd := flag.NewFlagSet("purge", flag.ContinueOnError)
	purgeBefore := purgeCmd.Duration("before", 0, "Redemptions older than this are deleted, e.g. 24h.")
	purgeYes := purgeCmd.Bool("yes", false, "Skip the confirmation prompt.")

	startSessionCmd := flag.NewFlagSet("startsession", flag.ContinueOnError)
	startTeacher := startSessionCmd.String("teacher", "", "The teacher's user ID.")
	startClass := startSessionCmd.String("class", "", "The class ID.")
	startSteps := startSessionCmd.String("steps", "", "Comma-separated steps, in order: geofence, face, qr, biometric.")
	startMinutes := startSessionCmd.Int("minutes", 60, "How long the session stays open.")
	startLat := startSessionCmd.Float64("lat", math.NaN(), "The classroom latitude (geofence).")
	startLon := startSessionCmd.Float64("lon", math.NaN(), "The classroom longitude (geofence).")
	startRadius := startSessionCmd.Float64("radius", 0, "The allowed radius in meters; 0 uses the default.")

	stopSessionCmd := flag.NewFlagSet("stopsession", flag.ContinueOnError)
	stopSessionID := stopSessionCmd.String("session", "", "The session ID.")

	marksCmd := flag.NewFlagSet("marks", flag.ContinueOnError)
	marksSessionID := marksCmd.String("session", "", "The session ID.")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenSub := tokenCmd.String("sub", "", "The user ID the token is issued to.")
	tokenRole := tokenCmd.String("role", "", "One of: student, teacher, admin.")
	tokenTTL := tokenCmd.Duration("ttl", 12*time.Hour, "How long the token is valid.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "purge":
		if err := purgeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *purgeBefore <= 0 {
			purgeCmd.Usage()
			return errHelp
		}
		if !*purgeYes {
			if !isTerminalFunc(int(os.Stdin.Fd())) {
				return errors.New("refusing to purge without -yes outside a terminal")
			}
			fmt.Fprintf(cli.out, "Delete QR redemptions older than %s? [y/N] ", *purgeBefore)
			answer, err := readAnswerFunc(os.Stdin)
			if err != nil {
				return err
			}
			if a := strings.ToLower(answer); a != "y" && a != "yes" {
				return errNotConfirmed
			}
		}
		return cli.purge(*purgeBefore)

	case "startsession":
		if err := startSessionCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *startTeacher == "" || *startClass == "" || *startSteps == "" {
			startSessionCmd.Usage()
			return errHelp
		}
		steps, err := verification.ParseStepKinds(*startSteps)
		if err != nil {
			return err
		}
		in := attendance.StartSessionInput{
			ClassID:         *startClass,
			EnabledSteps:    steps,
			AllowedRadius:   *startRadius,
			DurationMinutes: *startMinutes,
		}
		if !math.IsNaN(*startLat) || !math.IsNaN(*startLon) {
			in.ClassLocation = &geo.Point{Latitude: *startLat, Longitude: *startLon}
		}
		return cli.startSession(*startTeacher, in)

	case "stopsession":
		if err := stopSessionCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *stopSessionID == "" {
			stopSessionCmd.Usage()
			return errHelp
		}
		return cli.stopSession(*stopSessionID)

	case "marks":
		if err := marksCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *marksSessionID == "" {
			marksCmd.Usage()
			return errHelp
		}
		return cli.marks(*marksSessionID)

	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenSub == "" || *tokenRole == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenSub, *tokenRole, *tokenTTL)

	default:
		cli.printUsage()
		return errHelp
	}
}

func readAnswer(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
