package tests

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/attendance"
	"github.com/trezcool/presence/core/qrproof"
	"github.com/trezcool/presence/core/realtime"
	"github.com/trezcool/presence/core/verification"
	testutil "github.com/trezcool/presence/tests"
)

func Test_home(t *testing.T) {
	runHTTPTests(t, []httpTest{
		{
			name:     "health",
			method:   http.MethodGet,
			path:     "/",
			wantCode: http.StatusOK,
			wantData: marchallObj(t, map[string]string{"name": "Masomo Presence", "build": "test", "status": "ok"}),
		},
	})
}

func Test_attendanceApi_createSession(t *testing.T) {
	path := "/api/attendance/sessions"
	teacherToken := getToken(t, "teacher-1", "teacher")
	studentToken := getToken(t, "student-1", "student")
	valid := marchallObj(t, map[string]interface{}{
		"classId":         "class-1",
		"enabledSteps":    []string{"QR"},
		"durationMinutes": 30,
	})

	runHTTPTests(t, []httpTest{
		{
			name:     "no token",
			method:   http.MethodPost,
			path:     path,
			body:     valid,
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "student",
			method:   http.MethodPost,
			path:     path,
			body:     valid,
			token:    studentToken,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, errForbidden),
		},
		{
			name:     "empty",
			method:   http.MethodPost,
			path:     path,
			body:     []byte("{}"),
			token:    teacherToken,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"classId":         "this field is required",
				"enabledSteps":    "enabledSteps must be a non-empty ordered set of GEOFENCE, FACE, QR, BIOMETRIC",
				"durationMinutes": "this field is required",
			}),
		},
		{
			name:   "geofence without location",
			method: http.MethodPost,
			path:   path,
			body: marchallObj(t, map[string]interface{}{
				"classId":         "class-1",
				"enabledSteps":    []string{"GEOFENCE"},
				"durationMinutes": 30,
			}),
			token:    teacherToken,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"classLocation": "required when GEOFENCE is enabled"}),
		},
	})

	t.Run("created", func(t *testing.T) {
		sess := createSession(t, teacherToken, verification.StepGeofence, verification.StepQR)
		assert.NotEmpty(t, sess.ID)
		assert.Equal(t, "teacher-1", sess.TeacherID)
		assert.Equal(t, "class-1", sess.ClassID)
		assert.Equal(t, []verification.StepKind{verification.StepGeofence, verification.StepQR}, sess.EnabledSteps)
		assert.Equal(t, float64(100), sess.AllowedRadius)
		assert.WithinDuration(t, sess.CreatedAt.Add(time.Hour), sess.ExpiresAt, time.Second)
	})
}

func Test_attendanceApi_flow(t *testing.T) {
	teacherToken := getToken(t, "teacher-1", "teacher")
	otherTeacherToken := getToken(t, "teacher-2", "teacher")
	adminToken := getToken(t, "admin-1", "admin")
	studentToken := getToken(t, "student-1", "student")

	sess := createSession(t, teacherToken, verification.StepGeofence, verification.StepQR)
	sessionPath := "/api/attendance/sessions/" + sess.ID

	// the student reads the session configuration
	req, rec := newAuthRequest(http.MethodGet, sessionPath, studentToken)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var got verification.Session
	unmarshallObj(t, rec, &got)
	assert.Equal(t, sess.ID, got.ID)

	// the teacher displays the current QR token
	req, rec = newAuthRequest(http.MethodGet, "/api/attendance/qr/refresh/"+sess.ID, teacherToken)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var tok qrproof.Token
	unmarshallObj(t, rec, &tok)
	assert.Equal(t, sess.ID, tok.SessionID)

	req, rec = newAuthRequest(http.MethodGet, "/api/attendance/qr/refresh/"+sess.ID, studentToken)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "students only get tokens by scanning")

	req, rec = newAuthRequest(http.MethodGet, "/api/attendance/qr/image/"+sess.ID, teacherToken)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	text, err := qrproof.Decode(img)
	require.NoError(t, err)
	payload, err := qrproof.ParsePayload(text)
	require.NoError(t, err)
	assert.Equal(t, qrproof.NewPayload(tok), payload)

	// the student scans & redeems it
	t.Run("redeem", func(t *testing.T) {
		path := "/api/attendance/qr/redeem"

		req, rec := newAuthRequest(http.MethodPost, path, studentToken, []byte(text))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var rdm qrproof.Redemption
		unmarshallObj(t, rec, &rdm)
		assert.Equal(t, tok.TokenID, rdm.TokenID)
		assert.Equal(t, "student-1", rdm.StudentID)

		for _, tc := range []struct {
			name     string
			body     string
			token    string
			wantCode int
			reason   core.Reason
		}{
			{name: "reused", body: text, token: studentToken, wantCode: http.StatusConflict, reason: core.ReasonTokenExpiredOrReused},
			{name: "garbage", body: "https://example.com", token: getToken(t, "student-2", "student"), wantCode: http.StatusBadRequest, reason: core.ReasonInvalidQrFormat},
			{name: "extra field", body: `{"token":"t","sessionId":"s","x":1}`, token: getToken(t, "student-2", "student"), wantCode: http.StatusBadRequest, reason: core.ReasonInvalidQrFormat},
		} {
			t.Run(tc.name, func(t *testing.T) {
				req, rec := newAuthRequest(http.MethodPost, path, tc.token, []byte(tc.body))
				app.ServeHTTP(rec, req)
				assert.Equal(t, tc.wantCode, rec.Code)
				var body verificationErr
				unmarshallObj(t, rec, &body)
				assert.Equal(t, string(tc.reason), body.Reason)
				assert.NotEmpty(t, body.Hint)
			})
		}

		req, rec = newAuthRequest(http.MethodPost, path, teacherToken, []byte(text))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	// the student submits the claim
	t.Run("mark", func(t *testing.T) {
		path := "/api/attendance/mark"
		now := time.Now()
		claim := verification.Claim{
			SessionID: sess.ID,
			StepResults: []verification.StepResult{
				{
					Kind: verification.StepGeofence, Verified: true, Timestamp: now,
					Geofence: &verification.GeofenceEvidence{DistanceMeters: 20, AllowedRadius: sess.AllowedRadius},
				},
				{
					Kind: verification.StepQR, Verified: true, Timestamp: now,
					QR: &verification.QREvidence{Token: tok.Token, TokenID: tok.TokenID},
				},
			},
		}

		req, rec := newAuthRequest(http.MethodPost, path, studentToken, marchallObj(t, claim))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp struct {
			Success bool            `json:"success"`
			Message string          `json:"message"`
			Details attendance.Mark `json:"details"`
		}
		unmarshallObj(t, rec, &resp)
		assert.True(t, resp.Success)
		assert.Equal(t, "student-1", resp.Details.StudentID)

		runHTTPTests(t, []httpTest{
			{
				name:     "twice",
				method:   http.MethodPost,
				path:     path,
				body:     marchallObj(t, claim),
				token:    studentToken,
				wantCode: http.StatusConflict,
				wantData: marchallObj(t, httpErr{Error: "attendance already marked"}),
			},
			{
				name:     "not redeemed",
				method:   http.MethodPost,
				path:     path,
				body:     marchallObj(t, claim),
				token:    getToken(t, "student-3", "student"),
				wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, map[string]string{"stepResults": "QR token was not redeemed"}),
			},
			{
				name:     "no results",
				method:   http.MethodPost,
				path:     path,
				body:     marchallObj(t, verification.Claim{SessionID: sess.ID}),
				token:    getToken(t, "student-3", "student"),
				wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, map[string]string{"stepResults": "this field is required"}),
			},
		})
	})

	runHTTPTests(t, []httpTest{
		{
			name:     "marks of another teacher",
			method:   http.MethodGet,
			path:     sessionPath + "/marks",
			token:    otherTeacherToken,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "session belongs to another teacher"}),
		},
		{
			name:     "marks by student",
			method:   http.MethodGet,
			path:     sessionPath + "/marks",
			token:    studentToken,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, errForbidden),
		},
	})

	for name, token := range map[string]string{"owner": teacherToken, "admin": adminToken} {
		t.Run("marks by "+name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, sessionPath+"/marks", token)
			app.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)
			var marks []attendance.Mark
			unmarshallObj(t, rec, &marks)
			require.Len(t, marks, 1)
			assert.Equal(t, "student-1", marks[0].StudentID)
		})
	}

	runHTTPTests(t, []httpTest{
		{name: "stop QR of another teacher", method: http.MethodPost, path: "/api/attendance/qr/stop/" + sess.ID, token: otherTeacherToken, wantCode: http.StatusForbidden},
		{name: "stop QR", method: http.MethodPost, path: "/api/attendance/qr/stop/" + sess.ID, token: teacherToken, wantCode: http.StatusNoContent},
		{name: "stop session", method: http.MethodDelete, path: sessionPath, token: teacherToken, wantCode: http.StatusNoContent},
		{
			name:     "stopped session",
			method:   http.MethodGet,
			path:     sessionPath,
			token:    studentToken,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "session not found"}),
		},
	})
}

func Test_attendanceApi_startQR(t *testing.T) {
	teacherToken := getToken(t, "teacher-1", "teacher")
	sess := createSession(t, teacherToken, verification.StepQR)

	runHTTPTests(t, []httpTest{
		{
			name:     "no session id",
			method:   http.MethodPost,
			path:     "/api/attendance/qr/start",
			body:     []byte("{}"),
			token:    teacherToken,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"sessionId": "this field is required"}),
		},
		{
			name:     "malformed session id",
			method:   http.MethodPost,
			path:     "/api/attendance/qr/start",
			body:     marchallObj(t, map[string]string{"sessionId": "unknown"}),
			token:    teacherToken,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"sessionId": "sessionId must be a valid identifier"}),
		},
		{
			name:     "unknown session",
			method:   http.MethodPost,
			path:     "/api/attendance/qr/start",
			body:     marchallObj(t, map[string]string{"sessionId": "9b2f6c1e-3d7a-4c59-8f0e-2a1b3c4d5e6f"}),
			token:    teacherToken,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "session not found"}),
		},
		{
			name:     "another teacher",
			method:   http.MethodPost,
			path:     "/api/attendance/qr/start",
			body:     marchallObj(t, map[string]string{"sessionId": sess.ID}),
			token:    getToken(t, "teacher-2", "teacher"),
			wantCode: http.StatusForbidden,
		},
	})

	req, rec := newAuthRequest(http.MethodPost, "/api/attendance/qr/start", teacherToken, marchallObj(t, map[string]string{"sessionId": sess.ID}))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var tok qrproof.Token
	unmarshallObj(t, rec, &tok)
	assert.Equal(t, sess.ID, tok.SessionID)
	assert.Equal(t, int(qrproof.DefaultTTL/time.Second), tok.TTLSeconds)
}

func Test_attendanceApi_sessionExpired(t *testing.T) {
	clock := testutil.FreezeTime(t, time.Now())
	teacherToken := getToken(t, "teacher-1", "teacher")
	studentToken := getToken(t, "student-1", "student")

	req, rec := newAuthRequest(http.MethodPost, "/api/attendance/sessions", teacherToken, marchallObj(t, map[string]interface{}{
		"classId":         "class-1",
		"enabledSteps":    []string{"FACE"},
		"durationMinutes": 1,
	}))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var sess verification.Session
	unmarshallObj(t, rec, &sess)

	clock.Advance(2 * time.Minute)
	req, rec = newAuthRequest(http.MethodGet, "/api/attendance/sessions/"+sess.ID, studentToken)
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusGone, rec.Code)
	var body verificationErr
	unmarshallObj(t, rec, &body)
	assert.Equal(t, string(core.ReasonSessionExpired), body.Reason)
}

func Test_attendanceApi_roomEvents(t *testing.T) {
	teacherToken := getToken(t, "teacher-1", "teacher")
	sess := createSession(t, teacherToken, verification.StepFace)

	srv := httptest.NewServer(app)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("another teacher", func(t *testing.T) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/attendance/rooms/"+sess.ID+"/events", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+getToken(t, "teacher-2", "teacher"))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/attendance/rooms/"+sess.ID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+teacherToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the stream is subscribed once headers are sent
	ev, err := realtime.NewEvent(sess.ID, realtime.EventStudentAttendance, realtime.StudentAttendance{
		StudentID: "student-1",
		SessionID: sess.ID,
		Timestamp: time.Now().UTC(),
	}, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, hub.Publish(ctx, ev))

	delReq, delRec := newAuthRequest(http.MethodDelete, "/api/attendance/sessions/"+sess.ID, teacherToken)
	app.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusNoContent, delRec.Code)

	var types []string
	var first realtime.Event
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break // stream closed after sessionStopped
		}
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event: "):
			types = append(types, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: ") && len(types) == 1:
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &first))
		}
	}

	assert.Equal(t, []string{realtime.EventStudentAttendance, realtime.EventSessionStopped}, types)
	assert.Equal(t, sess.ID, first.Room)
	assert.JSONEq(t, string(ev.Data), string(first.Data))
}
