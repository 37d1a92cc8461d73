package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuongbtq/refminer-intake/internal/api/storage"
)

const cursorPrefix = "project|"

func DecodeProjectCursor(cursorStr string) (*storage.ProjectCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	raw, ok := strings.CutPrefix(string(decoded), cursorPrefix)
	if !ok {
		return nil, fmt.Errorf("invalid cursor format")
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid id in cursor: %q", raw)
	}

	return &storage.ProjectCursor{ID: id}, nil
}

func EncodeProjectCursor(cursor *storage.ProjectCursor) string {
	cs := cursorPrefix + strconv.FormatInt(cursor.ID, 10)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
