package pagination

import (
	"fmt"
	"strconv"
)

// MinLimit is the smallest page size ParseLimit returns
const MinLimit = 1

// ParseLimit parses a limit query parameter. An empty value yields
// defaultLimit; values are clamped to [MinLimit, maxLimit].
func ParseLimit(limitStr string, defaultLimit, maxLimit int) (int, error) {
	if limitStr == "" {
		return defaultLimit, nil
	}

	l, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if l < MinLimit {
		return MinLimit, nil
	}
	if l > maxLimit {
		return maxLimit, nil
	}
	return l, nil
}
