package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// IDType is the prefix that says what kind of object an ID names.
type IDType string

const (
	IDTypeRequest IDType = "req"
	IDTypeSwitch  IDType = "sw"
	IDTypeSession IDType = "sess"
	IDTypeEvent   IDType = "evt"
)

func (t IDType) Valid() bool {
	switch t {
	case IDTypeRequest, IDTypeSwitch, IDTypeSession, IDTypeEvent:
		return true
	}
	return false
}

// IDs look like req_1735775045_9f3a01bc: prefix, 10-digit Unix seconds,
// 4 random bytes in hex.
var idRegex = regexp.MustCompile(`^(req|sw|sess|evt)_[0-9]{10}_[0-9a-f]{8}$`)

func GenerateID(idType IDType) (string, error) {
	if !idType.Valid() {
		return "", fmt.Errorf("invalid ID type: %s", idType)
	}

	var random [4]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", fmt.Errorf("generate ID entropy: %w", err)
	}

	return fmt.Sprintf("%s_%010d_%s", idType, time.Now().Unix(), hex.EncodeToString(random[:])), nil
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}

func ParseIDType(id string) (IDType, error) {
	if !ValidateID(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	prefix, _, _ := strings.Cut(id, "_")
	return IDType(prefix), nil
}

func ParseIDTimestamp(id string) (time.Time, error) {
	if !ValidateID(id) {
		return time.Time{}, fmt.Errorf("invalid ID format: %s", id)
	}
	parts := strings.SplitN(id, "_", 3)
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp in ID %s: %w", id, err)
	}
	return time.Unix(ts, 0), nil
}
