package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"daycare/internal/attendance"
	"daycare/internal/auth"
	"daycare/internal/config"
	"daycare/internal/hours"
	"daycare/internal/httpmiddleware"
	"daycare/internal/media"
	"daycare/internal/metrics"
	"daycare/internal/pickup"
	"daycare/internal/queue"
	"daycare/internal/store"
	"daycare/internal/terminal"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		if db == nil {
			log.Fatalf("db open failed: %v", err)
		}
		// Opened but not reachable yet: the pool reconnects on demand.
		log.Printf("warning: db not reachable: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "daycare:checkouts")
	}

	loc := cfg.Location()
	now := func() time.Time { return time.Now().In(loc) }

	pickupRepo := pickup.NewRepo(db.Client)
	src := pickup.SelectSource(context.Background(), db.Client, pickupRepo, now)
	registry := pickup.NewRegistry(src, pickupRepo, pickupRepo)
	validator := pickup.NewValidator(src)

	attRepo := attendance.NewRepository(db.Client)
	hoursClient := hours.New(cfg.HoursServiceURL, cfg.HoursSkip)
	tracker := attendance.NewTracker(attRepo, validator, hoursClient, pickupRepo, q, now)

	termRepo := terminal.NewRepo(db.Client)

	// Media client (nil when not configured)
	var mediaClient *media.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		mediaClient = media.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/terminals/register", func(c *gin.Context) {
		var req struct {
			OrgID      string `json:"org_id" binding:"required"`
			TerminalID string `json:"terminal_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := termRepo.Register(c.Request.Context(), req.OrgID, req.TerminalID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.TerminalID, req.OrgID, "terminal", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = termRepo.SaveRefreshToken(c.Request.Context(), req.OrgID, req.TerminalID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.TerminalAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/attendance/checkin", func(c *gin.Context) {
		var req attendance.CheckInInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := tracker.CheckIn(c.Request.Context(), auth.OrgFromContext(c), req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		metrics.CheckIns.Inc()
		c.JSON(http.StatusOK, gin.H{"session": sess})
	})

	authGroup.POST("/attendance/checkout", func(c *gin.Context) {
		var req attendance.CheckOutInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		outcome := tracker.CheckOutWithData(c.Request.Context(), auth.OrgFromContext(c), req)
		if !outcome.Success {
			status := http.StatusBadRequest
			if outcome.Validation != nil && !outcome.Validation.IsValid {
				status = http.StatusForbidden
				metrics.PickupDenied.Inc()
			}
			c.JSON(status, outcome)
			return
		}
		metrics.CheckOuts.Inc()
		if len(outcome.Warnings) > 0 {
			metrics.HoursRecordFailures.Inc()
		}
		c.JSON(http.StatusOK, outcome)
	})

	authGroup.POST("/attendance/absent", func(c *gin.Context) {
		var req struct {
			ChildID     string `json:"child_id" binding:"required"`
			ClassroomID string `json:"classroom_id"`
			Date        string `json:"date"`
			Status      string `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var date time.Time
		if req.Date != "" {
			parsed, err := time.Parse("2006-01-02", req.Date)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
			date = parsed
		}
		sess, err := tracker.MarkAbsent(c.Request.Context(), auth.OrgFromContext(c), req.ChildID, req.ClassroomID, date, req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": sess})
	})

	authGroup.GET("/attendance", func(c *gin.Context) {
		orgID := auth.OrgFromContext(c)
		date, err := parseDateQuery(c.Query("date"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if childID := c.Query("child_id"); childID != "" {
			from, to := date.AddDate(0, -1, 0), date
			sessions, err := tracker.GetByChild(c.Request.Context(), orgID, childID, from, to)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"sessions": sessions})
			return
		}
		sessions, err := tracker.GetByDate(c.Request.Context(), orgID, date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	})

	authGroup.GET("/attendance/stats", func(c *gin.Context) {
		date, err := parseDateQuery(c.Query("date"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		stats, err := tracker.GetDailyStats(c.Request.Context(), auth.OrgFromContext(c), date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	authGroup.GET("/children/:id/authorized-pickups", func(c *gin.Context) {
		people, err := registry.ListAuthorizedFor(c.Request.Context(), auth.OrgFromContext(c), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"authorized_pickups": people})
	})

	authGroup.POST("/children/:id/authorized-pickups", func(c *gin.Context) {
		var req struct {
			PersonType      string   `json:"person_type"`
			Name            string   `json:"name" binding:"required"`
			Relationship    string   `json:"relationship" binding:"required"`
			Phone           string   `json:"phone"`
			PhotoURL        string   `json:"photo_url"`
			IDDocumentURL   string   `json:"id_document_url"`
			ValidFrom       string   `json:"valid_from"`
			ValidUntil      string   `json:"valid_until"`
			AllowedDays     []string `json:"allowed_days"`
			TimeRestriction string   `json:"time_restriction"`
			Restrictions    string   `json:"restrictions"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec := pickup.AuthorizedPickup{
			OrgID:           auth.OrgFromContext(c),
			ChildID:         c.Param("id"),
			PersonType:      pickup.PersonType(req.PersonType),
			Name:            req.Name,
			Relationship:    req.Relationship,
			Phone:           req.Phone,
			PhotoURL:        req.PhotoURL,
			IDDocumentURL:   req.IDDocumentURL,
			AllowedDays:     req.AllowedDays,
			TimeRestriction: req.TimeRestriction,
			Restrictions:    req.Restrictions,
		}
		var err error
		if rec.ValidFrom, err = parseOptionalDate(req.ValidFrom); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "valid_from must be YYYY-MM-DD"})
			return
		}
		if rec.ValidUntil, err = parseOptionalDate(req.ValidUntil); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "valid_until must be YYYY-MM-DD"})
			return
		}
		created, err := pickupRepo.Create(c.Request.Context(), rec)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"authorized_pickup": created})
	})

	authGroup.POST("/authorized-pickups/:id/verify", func(c *gin.Context) {
		var req struct {
			VerifiedBy string `json:"verified_by" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := registry.Verify(c.Request.Context(), auth.OrgFromContext(c), c.Param("id"), req.VerifiedBy)
		if err != nil {
			status := http.StatusInternalServerError
			if err == pickup.ErrNotFound {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "verified"})
	})

	authGroup.DELETE("/authorized-pickups/:id", func(c *gin.Context) {
		err := pickupRepo.SetStatus(c.Request.Context(), auth.OrgFromContext(c), c.Param("id"), pickup.StateDeactivated)
		if err != nil {
			status := http.StatusInternalServerError
			if err == pickup.ErrNotFound {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
	})

	authGroup.POST("/pickups/validate", func(c *gin.Context) {
		var req struct {
			ChildID    string `json:"child_id" binding:"required"`
			PersonType string `json:"person_type" binding:"required"`
			PersonID   string `json:"person_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := validator.Validate(c.Request.Context(), auth.OrgFromContext(c), req.ChildID, pickup.PersonType(req.PersonType), req.PersonID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !res.IsValid {
			metrics.PickupDenied.Inc()
		}
		c.JSON(http.StatusOK, res)
	})

	// Upload endpoint — stores an ID document or person photo and returns the
	// public URL for use in authorized-pickup records.
	authGroup.POST("/upload", func(c *gin.Context) {
		if mediaClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
			return
		}

		contentType := c.ContentType()
		var result *media.UploadResult
		var err error

		switch {
		case strings.Contains(contentType, "multipart/form-data"):
			file, header, ferr := c.Request.FormFile("file")
			if ferr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
				return
			}
			defer file.Close()
			data, ferr := io.ReadAll(file)
			if ferr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
				return
			}
			result, err = mediaClient.UploadBytes(data, header.Filename)

		default:
			var body struct {
				Data string `json:"data" binding:"required"`
			}
			if berr := c.ShouldBindJSON(&body); berr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
				return
			}
			result, err = mediaClient.UploadBase64(body.Data)
		}

		if err != nil {
			log.Printf("media upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"url":       result.SecureURL,
			"public_id": result.PublicID,
			"width":     result.Width,
			"height":    result.Height,
			"bytes":     result.Bytes,
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func parseDateQuery(v string) (time.Time, error) {
	if v == "" {
		return time.Now().UTC(), nil
	}
	date, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return date, nil
}

func parseOptionalDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	date, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &date, nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
