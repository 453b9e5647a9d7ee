package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"timerbot/internal/storage"
	logx "timerbot/pkg/logx"
)

const requestIDHeader = "X-Request-ID"

// Handler builds the gin engine. An empty token disables auth.
func (s *Service) Handler(token string) http.Handler {
	r := gin.New()
	r.Use(s.requestID(), s.recovery(), s.accessLog())

	r.GET("/healthz", s.health)

	v1 := r.Group("/v1")
	v1.Use(auth(token))
	s.RegisterRoutes(v1)
	return r
}

// RegisterRoutes mounts the read-only API on g.
func (s *Service) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/stats", s.getStats)
	g.GET("/activities", s.listActivities)
	g.GET("/users/:id", s.getUser)
	g.GET("/users/:id/timers", s.getTimers)
	if s.deps.Scheduler != nil {
		g.GET("/jobs", s.listJobs)
	}
	if s.deps.Notifier != nil {
		g.GET("/notifications", s.listNotifications)
	}
}

func (s *Service) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Service) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		s.log.Error("http handler panic",
			logx.String("path", c.Request.URL.Path),
			logx.String("request_id", c.GetString("request_id")),
			logx.Any("panic", rec),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

func (s *Service) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", c.GetString("request_id")),
		)
	}
}

// auth accepts "Authorization: Bearer <token>" or "?token=<token>".
func auth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			got = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
		if got == "" {
			got = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="timerbot"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Service) health(c *gin.Context) {
	out := gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"armed":  s.deps.Engine.Armed(),
	}
	if s.deps.Runtime != nil {
		out["goroutines"] = s.deps.Runtime()
	}
	c.JSON(http.StatusOK, out)
}

type statsView struct {
	Today       map[string]uint64 `json:"today"`
	TodayUsers  int               `json:"today_unique_users"`
	Since       time.Time         `json:"since"`
	Totals      storage.Totals    `json:"totals"`
	ArmedTimers int               `json:"armed_timers"`
}

func (s *Service) getStats(c *gin.Context) {
	if s.deps.Stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stats disabled"})
		return
	}
	totals, err := s.deps.Stats.Totals(c.Request.Context())
	if err != nil {
		s.log.Warn("load totals failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load totals failed"})
		return
	}
	today := s.deps.Stats.Today()
	c.JSON(http.StatusOK, statsView{
		Today:       today.Counts,
		TodayUsers:  today.UniqueUsers,
		Since:       today.Since,
		Totals:      totals,
		ArmedTimers: s.deps.Engine.Armed(),
	})
}

type activityView struct {
	ID              string   `json:"id"`
	Glyph           string   `json:"glyph"`
	Label           string   `json:"label"`
	CooldownSeconds int64    `json:"cooldown_seconds"`
	Aliases         []string `json:"aliases,omitempty"`
	Command         string   `json:"command,omitempty"`
	SilentWhenMuted bool     `json:"silent_when_muted"`
}

func (s *Service) listActivities(c *gin.Context) {
	acts := s.deps.Engine.Registry().All()
	out := make([]activityView, 0, len(acts))
	for _, a := range acts {
		out = append(out, activityView{
			ID:              a.ID,
			Glyph:           a.Glyph,
			Label:           a.Display(),
			CooldownSeconds: a.CooldownSeconds(),
			Aliases:         a.Aliases,
			Command:         a.Command,
			SilentWhenMuted: a.SilentWhenMuted,
		})
	}
	c.JSON(http.StatusOK, gin.H{"activities": out})
}

func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

func (s *Service) getUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	p, found, err := s.deps.Profiles.Lookup(c.Request.Context(), id)
	switch {
	case err != nil:
		s.log.Warn("profile lookup failed", logx.Int64("user_id", id), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
	case !found:
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		c.JSON(http.StatusOK, p)
	}
}

type timerView struct {
	Activity         string     `json:"activity"`
	Available        bool       `json:"available"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	Armed            bool       `json:"armed"`
	Custom           bool       `json:"custom"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

func (s *Service) getTimers(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	sts := s.deps.Engine.Timers(id)
	out := make([]timerView, 0, len(sts))
	for _, st := range sts {
		v := timerView{
			Activity:         st.Activity.ID,
			Available:        st.Remaining <= 0 && !st.Armed,
			RemainingSeconds: int64((st.Remaining + time.Second - 1) / time.Second),
			Armed:            st.Armed,
			Custom:           st.Custom,
		}
		if !st.StartedAt.IsZero() {
			t := st.StartedAt
			v.StartedAt = &t
		}
		if st.Armed {
			t := st.ExpiresAt
			v.ExpiresAt = &t
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "timers": out})
}

type jobView struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Timeout string    `json:"timeout"`
	Next    time.Time `json:"next"`
	Running bool      `json:"running"`
}

type runView struct {
	Name     string    `json:"name"`
	Started  time.Time `json:"started"`
	Duration string    `json:"duration"`
	Error    string    `json:"error,omitempty"`
}

func (s *Service) listJobs(c *gin.Context) {
	snap := s.deps.Scheduler.Snapshot()
	jobs := make([]jobView, 0, len(snap.Jobs))
	for _, j := range snap.Jobs {
		jobs = append(jobs, jobView{Name: j.Name, Spec: j.Spec, Timeout: j.Timeout.String(), Next: j.Next, Running: j.Running})
	}
	runs := make([]runView, 0, len(snap.History))
	for _, h := range snap.History {
		runs = append(runs, runView{Name: h.Name, Started: h.Started, Duration: h.Duration.String(), Error: h.Error})
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled":  snap.Enabled,
		"timezone": snap.Timezone,
		"jobs":     jobs,
		"history":  runs,
	})
}

type deliveryView struct {
	At      time.Time `json:"at"`
	UserID  int64     `json:"user_id"`
	ChatID  int64     `json:"chat_id"`
	Channel string    `json:"channel"`
	OK      bool      `json:"ok"`
}

func (s *Service) listNotifications(c *gin.Context) {
	hist := s.deps.Notifier.Snapshot()
	out := make([]deliveryView, 0, len(hist))
	for _, h := range hist {
		out = append(out, deliveryView(h))
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": out})
}
