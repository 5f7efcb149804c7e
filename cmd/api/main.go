package main

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/checkin"
	"rollcall/internal/clock"
	"rollcall/internal/cloudinary"
	"rollcall/internal/config"
	"rollcall/internal/faceclient"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
	"rollcall/internal/store"
	"rollcall/internal/verify"
	"rollcall/internal/window"
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
	ctx := context.Background()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	clk := clock.Real()
	subjects := roster.NewRepository(db.Client)
	windows := window.NewRepository(db.Client)
	records := attendance.NewRepository(db.Client)

	windowMgr := window.NewManager(windows, clk)
	recorder := attendance.NewRecorder(records, subjects, clk)
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	checkins := checkin.NewService(windowMgr, subjects, recorder, face, clk, cfg.SimilarityThreshold)

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured, enrollment captures will not be retained")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			Handle string `json:"handle" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		subject, err := subjects.Get(c.Request.Context(), req.Handle)
		if err != nil {
			respondError(c, err)
			return
		}
		if !subject.Active {
			c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
			return
		}

		tokens, err := auth.Issue(subject.Handle, string(subject.Role), cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))
	staff := authGroup.Group("", auth.RequireRole(string(roster.RoleInstructor), string(roster.RoleAdmin)))

	staff.POST("/windows", func(c *gin.Context) {
		var req struct {
			Name            string     `json:"name" binding:"required"`
			ExpiresAt       *time.Time `json:"expires_at"`
			DurationMinutes int        `json:"duration_minutes"`
			OriginLat       *float64   `json:"origin_lat"`
			OriginLng       *float64   `json:"origin_lng"`
			RadiusM         float64    `json:"radius_m"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		cfgWindow := window.Config{
			Name:      req.Name,
			ExpiresAt: req.ExpiresAt,
			Duration:  time.Duration(req.DurationMinutes) * time.Minute,
			RadiusM:   req.RadiusM,
		}
		if req.OriginLat != nil && req.OriginLng != nil {
			cfgWindow.Origin = &verify.Coordinate{Lat: *req.OriginLat, Lng: *req.OriginLng}
		}
		if cfgWindow.ExpiresAt == nil && cfgWindow.Duration == 0 {
			cfgWindow.Duration = cfg.DefaultWindowTTL
		}

		claims := auth.FromContext(c)
		w, err := windowMgr.Open(c.Request.Context(), claims.Handle, cfgWindow)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, w)
	})

	authGroup.GET("/windows/active", func(c *gin.Context) {
		claims := auth.FromContext(c)
		owner := ""
		if claims.Role == string(roster.RoleInstructor) {
			owner = claims.Handle
		}
		w, err := windowMgr.GetActive(c.Request.Context(), owner)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, w)
	})

	staff.POST("/windows/:id/expire", func(c *gin.Context) {
		if err := windowMgr.Close(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "closed"})
	})

	staff.GET("/windows/:id/records", func(c *gin.Context) {
		recs, err := records.ListForWindow(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	})

	authGroup.POST("/attendance", func(c *gin.Context) {
		var req struct {
			Window   string    `json:"window" binding:"required"` // id or join code
			Lat      *float64  `json:"lat"`
			Lng      *float64  `json:"lng"`
			Vector   []float64 `json:"vector"`
			ImageURL string    `json:"image_url"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims := auth.FromContext(c)
		in := checkin.Request{
			SubjectHandle: claims.Handle,
			WindowRef:     req.Window,
			Vector:        req.Vector,
			ImageURL:      req.ImageURL,
		}
		if req.Lat != nil && req.Lng != nil {
			in.Coordinate = &verify.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
		}

		res, err := checkins.CheckIn(c.Request.Context(), in)
		if err != nil {
			metrics.CheckinsTotal.WithLabelValues("error").Inc()
			respondError(c, err)
			return
		}

		switch {
		case res.Skipped:
			metrics.CheckinsTotal.WithLabelValues("skipped").Inc()
		case res.Accepted:
			metrics.CheckinsTotal.WithLabelValues("accepted").Inc()
		default:
			metrics.CheckinsTotal.WithLabelValues("rejected").Inc()
		}

		status := http.StatusOK
		if !res.Accepted {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, res)
	})

	authGroup.GET("/attendance/me", func(c *gin.Context) {
		claims := auth.FromContext(c)
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		recs, err := records.ListForSubject(c.Request.Context(), claims.Handle, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	})

	staff.POST("/subjects", func(c *gin.Context) {
		var req struct {
			Handle      string `json:"handle" binding:"required"`
			DisplayName string `json:"display_name" binding:"required"`
			Role        string `json:"role"`
			Active      *bool  `json:"active"`
			Department  string `json:"department"`
			Cohort      string `json:"cohort"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		subject := roster.Subject{
			Handle:      req.Handle,
			DisplayName: req.DisplayName,
			Role:        roster.Role(req.Role),
			Active:      true,
			Department:  req.Department,
			Cohort:      req.Cohort,
		}
		if req.Active != nil {
			subject.Active = *req.Active
		}
		if err := subjects.Upsert(c.Request.Context(), subject); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"status": "ok"})
	})

	// Biometric enrollment: image in, reference vector stored. The image
	// goes to Cloudinary (when configured) purely as audit material.
	authGroup.POST("/subjects/:handle/face", func(c *gin.Context) {
		handle := c.Param("handle")
		claims := auth.FromContext(c)
		if claims.Handle != handle && claims.Role == string(roster.RoleSubject) {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot enroll another subject"})
			return
		}

		imageURL, capture, err := readEnrollmentImage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if cdnClient != nil && capture != "" {
			if up, err := cdnClient.UploadBase64(c.Request.Context(), capture); err != nil {
				log.Printf("enrollment capture upload failed for %s: %v", handle, err)
			} else {
				imageURL = up.SecureURL
			}
		}
		if imageURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image_url or data required"})
			return
		}

		embedding, err := face.Embed(c.Request.Context(), imageURL)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "feature extraction failed: " + err.Error()})
			return
		}
		if err := subjects.SetEmbedding(c.Request.Context(), handle, embedding, clk.Now()); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "enrolled", "dimensions": len(embedding)})
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

// readEnrollmentImage pulls the enrollment capture out of the request:
// either a JSON body carrying an image URL or a base64 data URL, or a
// multipart file upload.
func readEnrollmentImage(c *gin.Context) (imageURL, base64Capture string, err error) {
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, _, ferr := c.Request.FormFile("file")
		if ferr != nil {
			return "", "", errors.New("file field required")
		}
		defer file.Close()
		data, ferr := io.ReadAll(file)
		if ferr != nil {
			return "", "", errors.New("read file failed")
		}
		return "", "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(data), nil
	}

	var body struct {
		ImageURL string `json:"image_url"`
		Data     string `json:"data"`
	}
	if berr := c.ShouldBindJSON(&body); berr != nil {
		return "", "", errors.New(`provide {"image_url": "..."} or {"data": "<base64 data URL>"}`)
	}
	return body.ImageURL, body.Data, nil
}

// respondError maps domain errors onto transport responses so the UI can
// render targeted messages for each failure kind.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, window.ErrNoActive):
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session", "code": "no_active_window"})
	case errors.Is(err, window.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "code": "window_not_found"})
	case errors.Is(err, roster.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "subject not found", "code": "subject_not_found"})
	case errors.Is(err, roster.ErrNotEnrolled):
		c.JSON(http.StatusConflict, gin.H{"error": "face not enrolled", "code": "not_enrolled"})
	case errors.Is(err, checkin.ErrWindowClosed):
		c.JSON(http.StatusGone, gin.H{"error": "attendance window closed", "code": "window_closed"})
	case errors.Is(err, attendance.ErrPersistence):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure", "code": "persistence"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
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
