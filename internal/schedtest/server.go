// ============================================================================
// schedtest - 記憶體內的排程器 API
// ============================================================================
//
// Package: internal/schedtest
// 文件: server.go
// 功能: 以 gorilla/mux 實作排程器的 REST 介面，供測試與 demo 使用
//
// 路由:
//   POST   /users/login         {id,password} -> {token}
//   GET    /users/me            -> {id,name,createdAt}
//   GET    /jobs                -> Job[]
//   POST   /jobs                -> Job
//   DELETE /jobs/{id}
//   POST   /jobs/start/{id}
//   POST   /jobs/pause/{id}
//   POST   /jobs/run/{id}       立即執行一次並寫入一筆 Log
//   GET    /logs?page&limit&status&jobId&from&to -> {items,total,page,limit}
//
// 測試輔助:
//   - Calls(route): 每個路由的呼叫次數
//   - FailNext(route, status, message): 下一次呼叫回傳指定錯誤
//   - Block(route): 暫停路由直到 release 被呼叫
//
// ============================================================================

package schedtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ChuLiYu/schedctl/pkg/types"
)

// 路由名稱，與 api.Client 的操作名稱一致
const (
	RouteLogin     = "login"
	RouteMe        = "me"
	RouteListJobs  = "list_jobs"
	RouteCreateJob = "create_job"
	RouteDeleteJob = "delete_job"
	RouteStartJob  = "start_job"
	RoutePauseJob  = "pause_job"
	RouteRunJob    = "run_job"
	RouteListLogs  = "list_logs"
)

type user struct {
	password string
	identity types.Identity
}

type failure struct {
	status  int
	message string
}

// Server 記憶體內的排程器
type Server struct {
	mu        sync.Mutex
	users     map[string]user
	tokens    map[string]string // token -> user id
	jobs      map[types.JobID]*types.Job
	logs      []types.Log
	nextJobID types.JobID
	nextLogID int64
	calls     map[string]int
	queries   map[string]url.Values
	failures  map[string][]failure
	blocks    map[string]chan struct{}
	now       func() time.Time
}

// NewServer 建立空的伺服器
func NewServer() *Server {
	return &Server{
		users:     make(map[string]user),
		tokens:    make(map[string]string),
		jobs:      make(map[types.JobID]*types.Job),
		nextJobID: 1,
		nextLogID: 1,
		calls:     make(map[string]int),
		queries:   make(map[string]url.Values),
		failures:  make(map[string][]failure),
		blocks:    make(map[string]chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewTestServer 建立伺服器並以 httptest 啟動
func NewTestServer() (*Server, *httptest.Server) {
	s := NewServer()
	return s, httptest.NewServer(s.Handler())
}

// AddUser 新增可登入的使用者
func (s *Server) AddUser(id, password, name string) types.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity := types.Identity{ID: id, Name: name, CreatedAt: s.now()}
	s.users[id] = user{password: password, identity: identity}
	return identity
}

// IssueToken 直接為使用者發出 token（跳過登入）
func (s *Server) IssueToken(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := uuid.NewString()
	s.tokens[token] = userID
	return token
}

// RevokeToken 使 token 失效，之後的請求會收到 401
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// AddJob 新增任務，ID 由伺服器分配
func (s *Server) AddJob(req types.CreateJobRequest) types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.createJobLocked(req)
}

// AddLog 新增執行紀錄
func (s *Server) AddLog(jobID types.JobID, status types.LogStatus, httpStatus int, message string, at time.Time) types.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLogLocked(jobID, status, httpStatus, message, at)
}

// Jobs 目前所有任務（依 ID 排序）
func (s *Server) Jobs() []types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedJobsLocked()
}

// Job 取得單一任務
func (s *Server) Job(id types.JobID) (types.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return types.Job{}, false
	}
	return *job, true
}

// LogCount 目前紀錄總數
func (s *Server) LogCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

// Calls 路由被呼叫的次數
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// LastQuery 路由最後一次收到的查詢參數
func (s *Server) LastQuery(route string) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[route]
}

// FailNext 下一次呼叫 route 時回傳 status 與 message（message 為空時不帶訊息）
func (s *Server) FailNext(route string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], failure{status: status, message: message})
}

// Block 暫停 route 的處理，直到 release 被呼叫
func (s *Server) Block(route string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.blocks[route] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.blocks[route] == ch {
				delete(s.blocks, route)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Handler 回傳 REST 路由
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.instrument)

	router.HandleFunc("/users/login", s.login).Methods(http.MethodPost).Name(RouteLogin)

	authed := router.NewRoute().Subrouter()
	authed.Use(s.authenticate)
	authed.HandleFunc("/users/me", s.me).Methods(http.MethodGet).Name(RouteMe)
	authed.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet).Name(RouteListJobs)
	authed.HandleFunc("/jobs", s.createJob).Methods(http.MethodPost).Name(RouteCreateJob)
	authed.HandleFunc("/jobs/{id:[0-9]+}", s.deleteJob).Methods(http.MethodDelete).Name(RouteDeleteJob)
	authed.HandleFunc("/jobs/start/{id:[0-9]+}", s.setStatus(types.JobActive)).Methods(http.MethodPost).Name(RouteStartJob)
	authed.HandleFunc("/jobs/pause/{id:[0-9]+}", s.setStatus(types.JobPaused)).Methods(http.MethodPost).Name(RoutePauseJob)
	authed.HandleFunc("/jobs/run/{id:[0-9]+}", s.runJob).Methods(http.MethodPost).Name(RouteRunJob)
	authed.HandleFunc("/logs", s.listLogs).Methods(http.MethodGet).Name(RouteListLogs)

	return router
}

// ============================================================================
// 中介層
// ============================================================================

// instrument 計數、套用 Block 與 FailNext
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := ""
		if route := mux.CurrentRoute(r); route != nil {
			name = route.GetName()
		}

		s.mu.Lock()
		s.calls[name]++
		s.queries[name] = r.URL.Query()
		block := s.blocks[name]
		var fail *failure
		if pending := s.failures[name]; len(pending) > 0 {
			fail = &pending[0]
			s.failures[name] = pending[1:]
		}
		s.mu.Unlock()

		if block != nil {
			select {
			case <-block:
			case <-r.Context().Done():
				return
			}
		}
		if fail != nil {
			if fail.message == "" {
				w.WriteHeader(fail.status)
				return
			}
			writeError(w, fail.status, fail.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, ok := s.tokens[token]
		s.mu.Unlock()
		if token == "" || !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// 使用者
// ============================================================================

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string `json:"id"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	u, ok := s.users[body.ID]
	if !ok || u.password != body.Password {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "invalid credentials")
		return
	}
	token := uuid.NewString()
	s.tokens[token] = body.ID
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	u, ok := s.users[s.tokens[token]]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, u.identity)
}

// ============================================================================
// 任務
// ============================================================================

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Jobs())
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req types.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if problems := validateJob(req); len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": problems})
		return
	}

	s.mu.Lock()
	job := *s.createJobLocked(req)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	s.mu.Lock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "job "+id.String()+" not found")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) setStatus(status types.JobStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := pathID(r)
		s.mu.Lock()
		job, ok := s.jobs[id]
		if ok {
			job.Status = status
			job.UpdatedAt = s.now()
		}
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound, "job "+id.String()+" not found")
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		now := s.now()
		job.LastRunAt = &now
		s.appendLogLocked(id, types.LogSuccess, http.StatusOK, "OK", now)
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "job "+id.String()+" not found")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// ============================================================================
// 執行紀錄
// ============================================================================

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := intParam(q, "page", 1)
	limit := intParam(q, "limit", 20)
	if page < 1 || limit < 1 {
		writeError(w, http.StatusBadRequest, "page and limit must be positive")
		return
	}

	var (
		status types.LogStatus
		jobID  types.JobID
		from   time.Time
		to     time.Time
		err    error
	)
	if v := q.Get("status"); v != "" {
		status = types.LogStatus(v)
		if status != types.LogSuccess && status != types.LogError {
			writeError(w, http.StatusBadRequest, "status must be one of SUCCESS, ERROR")
			return
		}
	}
	if v := q.Get("jobId"); v != "" {
		if jobID, err = types.ParseJobID(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339Nano, v); err != nil {
			writeError(w, http.StatusBadRequest, "from must be an ISO 8601 date string")
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339Nano, v); err != nil {
			writeError(w, http.StatusBadRequest, "to must be an ISO 8601 date string")
			return
		}
	}

	s.mu.Lock()
	matched := make([]types.Log, 0, len(s.logs))
	for _, l := range s.logs {
		if status != "" && l.Status != status {
			continue
		}
		if jobID != 0 && l.JobID != jobID {
			continue
		}
		if !from.IsZero() && l.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && l.CreatedAt.After(to) {
			continue
		}
		matched = append(matched, l)
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start := (page - 1) * limit
	items := []types.Log{}
	if start < len(matched) {
		end := start + limit
		if end > len(matched) {
			end = len(matched)
		}
		items = matched[start:end]
	}

	writeJSON(w, http.StatusOK, types.LogPage{
		Items: items,
		Total: len(matched),
		Page:  page,
		Limit: limit,
	})
}

// ============================================================================
// 內部輔助
// ============================================================================

func (s *Server) createJobLocked(req types.CreateJobRequest) *types.Job {
	now := s.now()
	job := &types.Job{
		ID:        s.nextJobID,
		Project:   req.Project,
		Name:      req.Name,
		Cron:      req.Cron,
		URL:       req.URL,
		Method:    req.Method,
		Status:    types.JobActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Description != "" {
		desc := req.Description
		job.Description = &desc
	}
	if req.SecretHeader != "" {
		secret := req.SecretHeader
		job.SecretHeader = &secret
	}
	if job.Method == "" {
		job.Method = types.MethodGet
	}
	s.jobs[job.ID] = job
	s.nextJobID++
	return job
}

func (s *Server) appendLogLocked(jobID types.JobID, status types.LogStatus, httpStatus int, message string, at time.Time) types.Log {
	l := types.Log{
		ID:        s.nextLogID,
		JobID:     jobID,
		Status:    status,
		CreatedAt: at.UTC(),
	}
	if httpStatus != 0 {
		code := httpStatus
		l.HTTPStatus = &code
	}
	if message != "" {
		msg := message
		l.Message = &msg
	}
	s.logs = append(s.logs, l)
	s.nextLogID++
	return l
}

func (s *Server) sortedJobsLocked() []types.Job {
	jobs := make([]types.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs
}

func validateJob(req types.CreateJobRequest) []string {
	var problems []string
	if strings.TrimSpace(req.Project) == "" {
		problems = append(problems, "project should not be empty")
	}
	if strings.TrimSpace(req.Name) == "" {
		problems = append(problems, "name should not be empty")
	}
	if strings.TrimSpace(req.Cron) == "" {
		problems = append(problems, "cron should not be empty")
	}
	if strings.TrimSpace(req.URL) == "" {
		problems = append(problems, "url must be a URL address")
	}
	if !req.Method.Valid() {
		problems = append(problems, "method must be one of the following values: GET, POST, PUT, PATCH, DELETE")
	}
	return problems
}

func pathID(r *http.Request) types.JobID {
	n, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return types.JobID(n)
}

func intParam(q url.Values, key string, def int) int {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": message, "statusCode": status})
}
