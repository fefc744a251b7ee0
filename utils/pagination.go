package utils

import (
	"fmt"
	"net/url"
	"strconv"
)

const pageSizeDefault = 20
const pageSizeMax = 100

// GetPaginationParams calculates the offset and limit for pagination based on the provided values.
// If offset or limit are nil, default values are used. The limit is capped at a maximum value.
func GetPaginationParams(offset *int, limit *int) (int, int) {
	finalOffset := 0
	finalLimit := pageSizeDefault

	if offset != nil && *offset >= 0 {
		finalOffset = *offset
	}

	if limit != nil && *limit > 0 {
		finalLimit = min(*limit, pageSizeMax)
	}

	return finalOffset, finalLimit
}

// PaginationFromQuery reads the optional offset and limit query parameters
// and applies GetPaginationParams to them.
func PaginationFromQuery(query url.Values) (int, int, error) {
	offset, err := optionalInt(query, "offset")
	if err != nil {
		return 0, 0, err
	}
	limit, err := optionalInt(query, "limit")
	if err != nil {
		return 0, 0, err
	}
	finalOffset, finalLimit := GetPaginationParams(offset, limit)
	return finalOffset, finalLimit, nil
}

func optionalInt(query url.Values, name string) (*int, error) {
	raw := query.Get(name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid '%s' query parameter, must be an integer", name)
	}
	return &value, nil
}
