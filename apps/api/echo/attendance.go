package echoapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/attendance"
	"github.com/trezcool/presence/core/qrproof"
	"github.com/trezcool/presence/core/realtime"
	"github.com/trezcool/presence/core/verification"
)

// sseKeepAlive is how often an idle event stream gets a comment line, so proxies keep it open.
var sseKeepAlive = 15 * time.Second

type attendanceApi struct {
	svc      *attendance.Service
	broker   realtime.Broker
	validate *validator.Validate
	logger   core.Logger
}

func registerAttendanceAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *attendance.Service,
	broker realtime.Broker,
	validate *validator.Validate,
	logger core.Logger,
) {
	api := attendanceApi{
		svc:      svc,
		broker:   broker,
		validate: validate,
		logger:   logger,
	}

	teacher := roleMiddleware(RoleTeacher)
	teacherOrAdmin := roleMiddleware(RoleTeacher, RoleAdmin)
	student := roleMiddleware(RoleStudent)

	ag := g.Group("/attendance", jwt)

	// sessions
	ag.POST("/sessions", api.createSession, teacher)
	ag.GET("/sessions/:sessionId", api.retrieveSession)
	ag.DELETE("/sessions/:sessionId", api.destroySession, teacherOrAdmin)
	ag.GET("/sessions/:sessionId/marks", api.queryMarks, teacherOrAdmin)

	// QR proof
	ag.POST("/qr/start", api.startQR, teacher)
	ag.GET("/qr/refresh/:sessionId", api.refreshQR, teacherOrAdmin)
	ag.POST("/qr/stop/:sessionId", api.stopQR, teacherOrAdmin)
	ag.GET("/qr/image/:sessionId", api.qrImage, teacherOrAdmin)
	ag.POST("/qr/redeem", api.redeemQR, student)

	// marking
	ag.POST("/mark", api.mark, student)

	// live room
	ag.GET("/rooms/:sessionId/events", api.roomEvents, teacherOrAdmin)
}

// Handlers

func (api *attendanceApi) createSession(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data attendance.StartSessionInput
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StartSessionInput")
	}
	sess, err := api.svc.StartSession(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "starting session")
	}

	api.logger.Info("session started: "+sess.ID, claims.identity())
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *attendanceApi) retrieveSession(ctx echo.Context) error {
	sess, err := api.svc.GetSession(ctx.Request().Context(), ctx.Param("sessionId"))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *attendanceApi) destroySession(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if err = api.svc.StopSession(ctx.Request().Context(), claims.owner(), ctx.Param("sessionId")); err != nil {
		return errors.Wrap(err, "stopping session")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *attendanceApi) queryMarks(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	marks, err := api.svc.Marks(ctx.Request().Context(), claims.owner(), ctx.Param("sessionId"))
	if err != nil {
		return errors.Wrap(err, "listing marks")
	}
	return ctx.JSON(http.StatusOK, marks)
}

func (api *attendanceApi) startQR(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data struct {
		SessionID string `json:"sessionId" validate:"required,uuid"`
	}
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to startQR input")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	tok, err := api.svc.StartQR(ctx.Request().Context(), claims.Subject, data.SessionID)
	if err != nil {
		return errors.Wrap(err, "starting QR rotation")
	}
	return ctx.JSON(http.StatusOK, tok)
}

func (api *attendanceApi) refreshQR(ctx echo.Context) error {
	tok, err := api.svc.RefreshQR(ctx.Request().Context(), ctx.Param("sessionId"))
	if err != nil {
		return errors.Wrap(err, "refreshing QR token")
	}
	return ctx.JSON(http.StatusOK, tok)
}

func (api *attendanceApi) stopQR(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if err = api.svc.StopQR(ctx.Request().Context(), claims.owner(), ctx.Param("sessionId")); err != nil {
		return errors.Wrap(err, "stopping QR rotation")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *attendanceApi) qrImage(ctx echo.Context) error {
	tok, err := api.svc.RefreshQR(ctx.Request().Context(), ctx.Param("sessionId"))
	if err != nil {
		return errors.Wrap(err, "refreshing QR token")
	}
	png, err := qrproof.Render(qrproof.NewPayload(tok), qrproof.DefaultImageSize)
	if err != nil {
		return errors.Wrap(err, "rendering QR image")
	}
	ctx.Response().Header().Set("Cache-Control", "no-store")
	return ctx.Blob(http.StatusOK, "image/png", png)
}

// redeemQR takes the scanned QR text as the request body, untouched.
func (api *attendanceApi) redeemQR(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, 4<<10))
	if err != nil {
		return errors.Wrap(err, "reading body")
	}
	p, err := qrproof.ParsePayload(string(body))
	if err != nil {
		return err
	}

	rdm, err := api.svc.RedeemQR(ctx.Request().Context(), claims.Subject, p)
	if err != nil {
		return errors.Wrap(err, "redeeming QR token")
	}
	return ctx.JSON(http.StatusOK, rdm)
}

func (api *attendanceApi) mark(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data verification.Claim
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Claim")
	}
	resp, err := api.svc.Mark(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "marking attendance")
	}

	api.logger.Info("attendance marked for session "+data.SessionID, claims.identity())
	return ctx.JSON(http.StatusOK, resp)
}

// roomEvents streams a session's room as server-sent events until the client goes away
// or the session is stopped.
func (api *attendanceApi) roomEvents(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	reqCtx := ctx.Request().Context()

	sess, err := api.svc.OwnedSession(reqCtx, claims.owner(), ctx.Param("sessionId"))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}

	events, cancel, err := api.broker.Subscribe(reqCtx, sess.ID)
	if err != nil {
		return errors.Wrap(err, "subscribing to room")
	}
	defer cancel()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-reqCtx.Done():
			return nil
		case <-keepAlive.C:
			if _, err = io.WriteString(res, ": keep-alive\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				api.logger.Error("encoding room event", err)
				continue
			}
			if _, err = fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return nil
			}
			res.Flush()
			if ev.Type == realtime.EventSessionStopped {
				return nil
			}
		}
	}
}
