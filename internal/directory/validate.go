package directory

import (
	"fmt"
	"strings"

	"callrelay-backend/internal/domain"
	"callrelay-backend/pkg/constants"
	"callrelay-backend/pkg/password"
	"callrelay-backend/pkg/sanitize"
)

// newUser validates input and builds the user row with a hashed password
func newUser(input *domain.UserCreate) (*domain.User, error) {
	username := strings.TrimSpace(input.Username)
	if len(username) < constants.MinUsernameLength || len(username) > constants.MaxUsernameLength {
		return nil, fmt.Errorf("username must be %d-%d characters", constants.MinUsernameLength, constants.MaxUsernameLength)
	}
	if !sanitize.ValidUsername(username) {
		return nil, fmt.Errorf("username may only contain letters, digits, '_', '-' and '.'")
	}
	if err := password.Validate(input.Password); err != nil {
		return nil, err
	}
	displayName := sanitize.DisplayName(input.DisplayName)
	if displayName == "" {
		displayName = username
	}
	if len(displayName) > constants.MaxDisplayNameLength {
		return nil, fmt.Errorf("display name must be at most %d characters", constants.MaxDisplayNameLength)
	}

	hash, err := password.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	return &domain.User{
		Username:     username,
		PasswordHash: hash,
		DisplayName:  displayName,
		Status:       constants.UserStatusOffline,
	}, nil
}

func validateRoom(input *domain.RoomCreate) error {
	name := strings.TrimSpace(input.Name)
	if name == "" || len(name) > constants.MaxRoomNameLength {
		return fmt.Errorf("room name must be 1-%d characters", constants.MaxRoomNameLength)
	}
	return nil
}

func validateCall(input *domain.CallCreate) error {
	if (input.ReceiverID == nil) == (input.RoomID == nil) {
		return fmt.Errorf("call needs exactly one of receiver or room")
	}
	if !input.Kind.Valid() {
		return fmt.Errorf("invalid call kind %q", input.Kind)
	}
	return nil
}

func statusFor(online bool) string {
	if online {
		return constants.UserStatusOnline
	}
	return constants.UserStatusOffline
}
