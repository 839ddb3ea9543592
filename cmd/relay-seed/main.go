package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/database"
	"callrelay-backend/internal/directory"
	"callrelay-backend/internal/domain"
	"callrelay-backend/internal/repository/cockroach"
	"callrelay-backend/pkg/config"
	"callrelay-backend/pkg/jwt"
	"callrelay-backend/pkg/logger"
)

type seededUser struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Token    string    `json:"token"`
}

type seedResult struct {
	Users  []seededUser `json:"users"`
	RoomID *uuid.UUID   `json:"room_id,omitempty"`
}

type stringSlice []string

func (s *stringSlice) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	if value == "" {
		return fmt.Errorf("value cannot be empty")
	}
	*s = append(*s, value)
	return nil
}

func main() {
	var users stringSlice
	flag.Var(&users, "user", "username to create or reuse (repeatable)")
	pass := flag.String("password", "relay-dev-123", "password for newly created users")
	roomName := flag.String("room", "", "create a room with every seeded user as a member")
	flag.Parse()

	if len(users) == 0 {
		fmt.Fprintln(os.Stderr, "at least one -user is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger.InitDefault()
	defer logger.Sync()

	if cfg.DirectoryBackend != config.DirectoryCockroach {
		logger.Fatal("Seeding needs the cockroach directory backend", zap.String("backend", cfg.DirectoryBackend))
	}

	ctx := context.Background()
	db, err := database.NewCockroachDB(ctx, &database.CockroachConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()

	if err := cockroach.EnsureSchema(ctx, db.Pool); err != nil {
		logger.Fatal("Failed to prepare schema", zap.Error(err))
	}

	dir := directory.NewStore(
		cockroach.NewUserRepository(db.Pool),
		cockroach.NewRoomRepository(db.Pool),
		cockroach.NewCallRepository(db.Pool),
		nil,
	)
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	result, err := seed(ctx, dir, jwtManager, users, *pass, *roomName)
	if err != nil {
		logger.Fatal("Seeding failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Fatal("Failed to write result", zap.Error(err))
	}
}

// seed creates missing users, optionally a room holding all of them, and
// issues an access token per user
func seed(ctx context.Context, dir directory.Directory, tokens *jwt.JWTManager, usernames []string, pass, roomName string) (*seedResult, error) {
	result := &seedResult{}
	memberIDs := make([]uuid.UUID, 0, len(usernames))

	for _, username := range usernames {
		user, err := dir.GetUserByUsername(ctx, username)
		if directory.IsNotFound(err) {
			user, err = dir.CreateUser(ctx, &domain.UserCreate{Username: username, Password: pass})
		}
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", username, err)
		}

		token, err := tokens.GenerateAccessToken(user.UserID, user.Username, "user")
		if err != nil {
			return nil, fmt.Errorf("token for %s: %w", username, err)
		}
		memberIDs = append(memberIDs, user.UserID)
		result.Users = append(result.Users, seededUser{UserID: user.UserID, Username: user.Username, Token: token})
	}

	if roomName != "" {
		room, err := dir.CreateRoom(ctx, &domain.RoomCreate{
			Name:      roomName,
			CreatedBy: memberIDs[0],
			MemberIDs: memberIDs,
		})
		if err != nil {
			return nil, fmt.Errorf("room %s: %w", roomName, err)
		}
		result.RoomID = &room.RoomID
	}

	return result, nil
}
