package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"strings"
	"time"

	"courtbook/internal/config"
	"courtbook/internal/database"
	"courtbook/internal/domain"
	jwtsvc "courtbook/internal/pkg/jwt"
	"courtbook/internal/pkg/logger"
	"courtbook/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	venue := flag.String("venue", "", "venue id")
	courts := flag.String("courts", "", "comma separated court ids")
	from := flag.String("from", time.Now().UTC().Format(domain.MonthLayout), "first month (YYYY-MM)")
	months := flag.Int("months", 3, "number of months to generate")
	open := flag.String("open", "08:00", "opening time (HH:MM)")
	closing := flag.String("close", "22:00", "closing time (HH:MM)")
	force := flag.Bool("force", false, "replace existing months, dropping their reservations")
	hashKey := flag.String("hash-key", "", "print the bcrypt hash of a recovery API key and exit")
	adminToken := flag.String("admin-token", "", "print an admin JWT for the given user id and exit")
	flag.Parse()

	if *hashKey != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(*hashKey), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("hash key: %v", err)
		}
		log.Printf("RECOVERY_API_KEY=%s", h)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if *adminToken != "" {
		token, err := jwtsvc.New(cfg.JWTSecret, cfg.JWTTTL).GenerateToken(*adminToken, jwtsvc.RoleAdmin)
		if err != nil {
			log.Fatalf("token: %v", err)
		}
		log.Printf("admin token: %s", token)
		return
	}

	if *venue == "" || *courts == "" {
		log.Fatal("-venue and -courts are required")
	}
	zl, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	db, err := database.Connect(cfg.DatabaseURL, zl)
	if err != nil {
		zl.Fatal("db connection failed", zap.Error(err))
	}
	if err := database.Migrate(db, zl); err != nil {
		zl.Fatal("migrate failed", zap.Error(err))
	}

	first, err := time.Parse(domain.MonthLayout, *from)
	if err != nil {
		zl.Fatal("invalid -from", zap.Error(err))
	}
	courtIDs := strings.Split(*courts, ",")
	for i := range courtIDs {
		courtIDs[i] = strings.TrimSpace(courtIDs[i])
	}

	ctx := context.Background()
	repo := repository.NewAvailabilityRepository(db)
	for i := 0; i < *months; i++ {
		month := first.AddDate(0, i, 0).Format(domain.MonthLayout)
		if _, err := repo.Get(ctx, *venue, month); err == nil && !*force {
			zl.Info("month already generated, skipping", zap.String("venue_id", *venue), zap.String("month", month))
			continue
		} else if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
			zl.Fatal("load month", zap.String("month", month), zap.Error(err))
		}

		grid, err := domain.GenerateMonth(month, courtIDs, *open, *closing, cfg.Booking.SlotGranularity)
		if err != nil {
			zl.Fatal("generate month", zap.String("month", month), zap.Error(err))
		}
		doc := &domain.MonthlyAvailability{VenueID: *venue, Month: month, Grid: grid}
		if err := repo.Save(ctx, doc); err != nil {
			zl.Fatal("save month", zap.String("month", month), zap.Error(err))
		}
		zl.Info("month generated",
			zap.String("venue_id", *venue),
			zap.String("month", month),
			zap.Int("courts", len(courtIDs)))
	}
}
