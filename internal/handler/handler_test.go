package handler

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	_ "modernc.org/sqlite"

	"github.com/iliyamo/studyroom-seat-board/internal/config"
	"github.com/iliyamo/studyroom-seat-board/internal/database"
	"github.com/iliyamo/studyroom-seat-board/internal/layout"
	"github.com/iliyamo/studyroom-seat-board/internal/live"
	"github.com/iliyamo/studyroom-seat-board/internal/middleware"
	"github.com/iliyamo/studyroom-seat-board/internal/model"
	"github.com/iliyamo/studyroom-seat-board/internal/occupancy"
	"github.com/iliyamo/studyroom-seat-board/internal/repository"
	"github.com/iliyamo/studyroom-seat-board/internal/service"
	"github.com/iliyamo/studyroom-seat-board/internal/utils"
)

const secret = "handler-test-secret"

var kst = time.FixedZone("KST", 9*3600)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	e     *echo.Echo
	db    *sql.DB
	seats *service.SeatService
	hub   *live.Hub
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(context.Background(), db, database.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := openDB(t)
	ledger := repository.NewUsageEventRepo(db)
	hub := live.NewHub(ledger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	clk := &clock{t: time.Date(2025, 3, 10, 10, 0, 0, 0, kst)}
	rules := occupancy.Rules{CutoffHour: 21, Location: kst}
	seats := service.NewSeatService(ledger,
		repository.NewMemorySeatRecordCache(),
		repository.NewMemoryProfileStore(),
		layout.Full(), rules,
		service.WithNotifier(hub),
		service.WithClock(clk.now),
	)

	sh := NewSeatHandler(seats, hub)
	sh.Heartbeat = time.Hour
	ph := NewProfileHandler(seats)
	mh := NewMonitorHandler(seats, hub)
	mh.Heartbeat = time.Hour

	e := echo.New()
	e.GET("/v1/layout", mh.Layout)
	g := e.Group("/v1", middleware.JWTAuth(secret))
	g.GET("/me/profile", ph.GetProfile)
	g.PUT("/me/profile", ph.PutProfile)
	g.GET("/me/history", ph.History)
	g.GET("/seats", sh.Board)
	g.GET("/seats/stream", sh.Stream)
	g.POST("/seats/release", sh.Release)
	g.POST("/seats/:number/claim", sh.Claim)
	m := e.Group("/v1/monitor", middleware.JWTAuth(secret), middleware.RequireRole(model.RoleTeacher))
	m.GET("", mh.Monitor)
	m.GET("/stream", mh.Stream)

	return &fixture{e: e, db: db, seats: seats, hub: hub}
}

func token(t *testing.T, uid uint64, email, role string) string {
	t.Helper()
	at, err := utils.NewAccessToken(secret, uid, email, role, 15)
	if err != nil {
		t.Fatal(err)
	}
	return at.Token
}

func (f *fixture) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}
	return v
}

// student signs up a student with a saved profile and returns their token.
func (f *fixture) student(t *testing.T, uid uint64, studentID, name string) string {
	t.Helper()
	tok := token(t, uid, strings.ToLower(name)+"@school.example", model.RoleStudent)
	rec := f.do(t, http.MethodPut, "/v1/me/profile", tok, model.Profile{StudentID: studentID, StudentName: name})
	if rec.Code != http.StatusOK {
		t.Fatalf("save profile: %d %s", rec.Code, rec.Body)
	}
	return tok
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	tok := token(t, 1, "lee@school.example", model.RoleStudent)

	rec := f.do(t, http.MethodGet, "/v1/me/profile", tok, nil)
	if rec.Code != http.StatusPreconditionRequired {
		t.Fatalf("missing profile: %d", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.Code != "profile_required" {
		t.Errorf("code = %q", body.Code)
	}

	rec = f.do(t, http.MethodPut, "/v1/me/profile", tok, echo.Map{"student_id": " ", "student_name": "Lee"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank student id: %d", rec.Code)
	}
	if body := decode[errorBody](t, rec); !strings.Contains(body.Error, "student_id is required") {
		t.Errorf("message = %q", body.Error)
	}

	rec = f.do(t, http.MethodPut, "/v1/me/profile", tok, echo.Map{"student_id": "20301", "student_name": " Lee "})
	if rec.Code != http.StatusOK {
		t.Fatalf("save: %d %s", rec.Code, rec.Body)
	}
	got := decode[model.Profile](t, f.do(t, http.MethodGet, "/v1/me/profile", tok, nil))
	if got.StudentID != "20301" || got.StudentName != "Lee" {
		t.Errorf("profile = %+v", got)
	}
}

func TestBoard_RequiresTokenAndProfile(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodGet, "/v1/seats", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d", rec.Code)
	}
	tok := token(t, 1, "lee@school.example", model.RoleStudent)
	if rec := f.do(t, http.MethodGet, "/v1/seats", tok, nil); rec.Code != http.StatusPreconditionRequired {
		t.Errorf("no profile: %d", rec.Code)
	}
}

func TestClaimThenBoard(t *testing.T) {
	f := newFixture(t)
	lee := f.student(t, 1, "20301", "Lee")

	rec := f.do(t, http.MethodPost, "/v1/seats/12/claim", lee, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("claim: %d %s", rec.Code, rec.Body)
	}
	cr := decode[claimResp](t, rec)
	if cr.Action != "write" || cr.Event == nil || cr.Event.SeatNumber != 12 || cr.Event.Released {
		t.Errorf("claim response = %+v", cr)
	}

	board := decode[boardResp](t, f.do(t, http.MethodGet, "/v1/seats", lee, nil))
	if board.Date != "2025-03-10" {
		t.Errorf("date = %s", board.Date)
	}
	if board.MySeat == nil || board.MySeat.Number != 12 {
		t.Fatalf("my seat = %+v", board.MySeat)
	}
	if len(board.Seats) != layout.Full().Len() {
		t.Errorf("board lists %d seats", len(board.Seats))
	}

	rec = f.do(t, http.MethodPost, "/v1/seats/12/claim", lee, nil)
	if rec.Code != http.StatusOK || decode[claimResp](t, rec).Action != "noop" {
		t.Errorf("reclaim own seat: %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodPost, "/v1/seats/14/claim", lee, nil)
	if rec.Code != http.StatusCreated || decode[claimResp](t, rec).Released != 12 {
		t.Fatalf("move seat: %d %s", rec.Code, rec.Body)
	}
	board = decode[boardResp](t, f.do(t, http.MethodGet, "/v1/seats", lee, nil))
	for _, st := range board.Seats {
		if st.Number == 12 && st.Status != occupancy.StatusAvailable {
			t.Errorf("seat 12 after move = %s", st.Status)
		}
	}
	if board.MySeat == nil || board.MySeat.Number != 14 {
		t.Errorf("my seat after move = %+v", board.MySeat)
	}
}

func TestClaim_Errors(t *testing.T) {
	f := newFixture(t)
	lee := f.student(t, 1, "20301", "Lee")
	kim := f.student(t, 2, "20302", "Kim")

	if rec := f.do(t, http.MethodPost, "/v1/seats/abc/claim", lee, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad number: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/seats/999/claim", lee, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown seat: %d", rec.Code)
	}

	if rec := f.do(t, http.MethodPost, "/v1/seats/3/claim", lee, nil); rec.Code != http.StatusCreated {
		t.Fatalf("lee claim: %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/v1/seats/3/claim", kim, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("kim on lee's seat: %d", rec.Code)
	}
	var body struct {
		Code     string              `json:"code"`
		Occupant occupancy.SeatState `json:"occupant"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "seat_occupied" || body.Occupant.StudentID != "20301" {
		t.Errorf("conflict body = %+v", body)
	}

	// kim's view shows the seat as someone else's, never as hers
	board := decode[boardResp](t, f.do(t, http.MethodGet, "/v1/seats", kim, nil))
	if board.MySeat != nil {
		t.Errorf("kim my seat = %+v", board.MySeat)
	}
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	lee := f.student(t, 1, "20301", "Lee")

	rec := f.do(t, http.MethodPost, "/v1/seats/release", lee, nil)
	if rec.Code != http.StatusConflict || decode[errorBody](t, rec).Code != "no_active_seat" {
		t.Fatalf("release without seat: %d %s", rec.Code, rec.Body)
	}

	f.do(t, http.MethodPost, "/v1/seats/7/claim", lee, nil)
	rec = f.do(t, http.MethodPost, "/v1/seats/release", lee, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("release: %d %s", rec.Code, rec.Body)
	}
	board := decode[boardResp](t, f.do(t, http.MethodGet, "/v1/seats", lee, nil))
	if board.MySeat != nil {
		t.Errorf("my seat after release = %+v", board.MySeat)
	}
}

func TestMonitor(t *testing.T) {
	f := newFixture(t)
	lee := f.student(t, 1, "20301", "Lee")
	f.do(t, http.MethodPost, "/v1/seats/5/claim", lee, nil)

	if rec := f.do(t, http.MethodGet, "/v1/monitor", lee, nil); rec.Code != http.StatusForbidden {
		t.Errorf("student on monitor: %d", rec.Code)
	}

	teacher := token(t, 9, "park@school.example", model.RoleTeacher)
	rec := f.do(t, http.MethodGet, "/v1/monitor", teacher, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("monitor: %d %s", rec.Code, rec.Body)
	}
	mon := decode[monitorResp](t, rec)
	if mon.Summary.Total != 130 || mon.Summary.Occupied != 1 || mon.Summary.Available != 129 {
		t.Errorf("summary = %+v", mon.Summary)
	}
	if len(mon.Summary.Usages) != 1 || mon.Summary.Usages[0].UserName != "Lee" {
		t.Errorf("usages = %+v", mon.Summary.Usages)
	}
	for _, st := range mon.Seats {
		if st.Status == occupancy.StatusMine {
			t.Errorf("monitor shows seat %d as mine", st.Number)
		}
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	lee := f.student(t, 1, "20301", "Lee")
	f.do(t, http.MethodPost, "/v1/seats/5/claim", lee, nil)
	f.do(t, http.MethodPost, "/v1/seats/release", lee, nil)

	if rec := f.do(t, http.MethodGet, "/v1/me/history?month=March", lee, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad month: %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/v1/me/history?month=2025-03", lee, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d %s", rec.Code, rec.Body)
	}
	h := decode[historyResp](t, rec)
	if len(h.Days) != 1 || h.Days[0].Date != "2025-03-10" || len(h.Days[0].Sessions) != 1 {
		t.Fatalf("days = %+v", h.Days)
	}
	if len(h.Months) != 1 || h.Months[0].Month.Month != "2025-03" {
		t.Errorf("months = %+v", h.Months)
	}

	other := decode[historyResp](t, f.do(t, http.MethodGet, "/v1/me/history?month=2025-02", lee, nil))
	if len(other.Days) != 0 || len(other.Months) != 1 {
		t.Errorf("february = %+v", other)
	}
}

func TestLayout(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/layout", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("layout: %d", rec.Code)
	}
	var body struct {
		Name  string `json:"name"`
		Total int    `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Name != layout.NameFull || body.Total != 130 {
		t.Errorf("layout = %+v", body)
	}
}

// sseEvent reads the next named event, skipping heartbeats.
func sseEvent(t *testing.T, r *bufio.Reader) (string, []byte) {
	t.Helper()
	var name string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			return name, []byte(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestStream_FollowsWrites(t *testing.T) {
	f := newFixture(t)
	lee := f.student(t, 1, "20301", "Lee")

	srv := httptest.NewServer(f.e)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/seats/stream?access_token="+lee, nil)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	r := bufio.NewReader(resp.Body)

	name, data := sseEvent(t, r)
	if name != "board" {
		t.Fatalf("first event = %s %s", name, data)
	}
	var first boardResp
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatal(err)
	}
	if first.MySeat != nil {
		t.Fatalf("empty room shows my seat %+v", first.MySeat)
	}

	if rec := f.do(t, http.MethodPost, "/v1/seats/21/claim", lee, nil); rec.Code != http.StatusCreated {
		t.Fatalf("claim: %d", rec.Code)
	}
	for i := 0; i < 4; i++ {
		name, data = sseEvent(t, r)
		var b boardResp
		if err := json.Unmarshal(data, &b); err != nil {
			t.Fatal(err)
		}
		if name == "board" && b.MySeat != nil && b.MySeat.Number == 21 {
			return
		}
	}
	t.Fatal("stream never showed the claimed seat as mine")
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrSeatOccupied, http.StatusConflict, "seat_occupied"},
		{service.ErrUnknownSeat, http.StatusNotFound, "unknown_seat"},
		{service.ErrProfileRequired, http.StatusPreconditionRequired, "profile_required"},
		{service.ErrSeatChangeInFlight, http.StatusConflict, "seat_change_in_flight"},
		{repository.ErrPermission, http.StatusForbidden, "permission_denied"},
		{repository.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, "unavailable"},
		{sql.ErrTxDone, http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := statusOf(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("%v -> %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
	if p := errorPayload(repository.ErrUnavailable); !p.Retryable {
		t.Error("unavailable must be retryable")
	}
}

func TestAuthFlow(t *testing.T) {
	db := openDB(t)
	cfg := config.Config{JWTSecret: secret, AccessTTLMin: 15, RefreshTTLDays: 7, BcryptCost: 4}
	a := NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db))
	e := echo.New()
	e.POST("/v1/auth/register", a.Register)
	e.POST("/v1/auth/login", a.Login)
	e.POST("/v1/auth/refresh", a.Refresh)
	e.POST("/v1/auth/logout", a.Logout)
	e.GET("/v1/me", a.Me, middleware.JWTAuth(secret))
	f := &fixture{e: e}

	rec := f.do(t, http.MethodPost, "/v1/auth/register", "", echo.Map{"email": "not-an-email", "password": "longenough"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad email: %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/v1/auth/register", "", echo.Map{
		"email": "Lee@School.example", "password": "longenough", "display_name": "Lee",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body)
	}
	reg := decode[authResp](t, rec)
	if reg.User.Email != "lee@school.example" || reg.User.Role != model.RoleStudent {
		t.Errorf("registered user = %+v", reg.User)
	}

	if rec := f.do(t, http.MethodPost, "/v1/auth/login", "", echo.Map{"email": "lee@school.example", "password": "wrong-pass"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/v1/auth/login", "", echo.Map{"email": "LEE@school.example", "password": "longenough"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body)
	}
	login := decode[authResp](t, rec)

	me := decode[map[string]string](t, f.do(t, http.MethodGet, "/v1/me", login.Access.Token, nil))
	if me["email"] != "lee@school.example" || me["role"] != model.RoleStudent {
		t.Errorf("me = %v", me)
	}

	rec = f.do(t, http.MethodPost, "/v1/auth/refresh", "", echo.Map{"refresh_token": login.Refresh.Token})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body)
	}
	rotated := decode[authResp](t, rec)
	if rec := f.do(t, http.MethodPost, "/v1/auth/refresh", "", echo.Map{"refresh_token": login.Refresh.Token}); rec.Code != http.StatusUnauthorized {
		t.Errorf("reused refresh token: %d", rec.Code)
	}

	if rec := f.do(t, http.MethodPost, "/v1/auth/logout", "", echo.Map{"refresh_token": rotated.Refresh.Token}); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: %d %s", rec.Code, rec.Body)
	}
	if rec := f.do(t, http.MethodPost, "/v1/auth/refresh", "", echo.Map{"refresh_token": rotated.Refresh.Token}); rec.Code != http.StatusUnauthorized {
		t.Errorf("refresh after logout: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/auth/logout", reg.Access.Token, nil); rec.Code != http.StatusNoContent {
		t.Errorf("logout all: %d %s", rec.Code, rec.Body)
	}
}

func TestRegister_TeacherNeedsCode(t *testing.T) {
	cases := []struct {
		name       string
		configured string
		code       string
		status     int
		role       string
	}{
		{"no code configured", "", "", http.StatusForbidden, ""},
		{"no code configured, any code", "", "anything", http.StatusForbidden, ""},
		{"wrong code", "room-42", "room-41", http.StatusForbidden, ""},
		{"right code", "room-42", "room-42", http.StatusCreated, model.RoleTeacher},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := openDB(t)
			cfg := config.Config{JWTSecret: secret, AccessTTLMin: 15, RefreshTTLDays: 7, BcryptCost: 4, TeacherCode: tc.configured}
			a := NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db))
			e := echo.New()
			e.POST("/v1/auth/register", a.Register)
			f := &fixture{e: e}

			rec := f.do(t, http.MethodPost, "/v1/auth/register", "", echo.Map{
				"email":    fmt.Sprintf("teacher%d@school.example", i),
				"password": "longenough", "role": "teacher", "teacher_code": tc.code,
			})
			if rec.Code != tc.status {
				t.Fatalf("register: %d %s", rec.Code, rec.Body)
			}
			if tc.role != "" {
				if got := decode[authResp](t, rec).User.Role; got != tc.role {
					t.Errorf("role = %q, want %q", got, tc.role)
				}
			}
		})
	}
}
