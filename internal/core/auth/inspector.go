// Package auth interprets bearer tokens issued by the identity provider.
//
// Tokens are decoded without verifying their signature or expiry. The output
// of Inspect is a set of claims as presented by the caller and must not be
// used in place of token validation performed by the identity provider or the
// services receiving the forwarded token.
package auth

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

// claims holds only the fields Inspect reads, so registered claims of an
// unexpected type do not discard the rest of the payload.
type claims struct {
	PreferredUsername string                    `json:"preferred_username"`
	ResourceAccess    map[string]resourceAccess `json:"resource_access"`
}

type resourceAccess struct {
	Roles []string `json:"roles"`
}

// Identity is what a token claims about its bearer.
type Identity struct {
	Username string
	roles    map[string]struct{}
}

// HasUsername reports whether the token carried a preferred_username claim.
func (i Identity) HasUsername() bool {
	return i.Username != ""
}

func (i Identity) HasRole(role string) bool {
	_, ok := i.roles[role]
	return ok
}

func (i Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

func (i Identity) IsAdmin(adminRole string) bool {
	return adminRole != "" && i.HasRole(adminRole)
}

// Roles returns the flattened client roles, sorted.
func (i Identity) Roles() []string {
	out := make([]string, 0, len(i.roles))
	for role := range i.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

type Inspector struct {
	parser *jwt.Parser
	logger *zap.Logger
}

func NewInspector(logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{
		parser: jwt.NewParser(),
		logger: logger,
	}
}

// Inspect extracts the roles of every resource_access client, unioned into
// one set, and the preferred_username claim. Malformed tokens yield an empty
// Identity.
func (in *Inspector) Inspect(token string) Identity {
	token = strings.TrimSpace(token)
	if len(token) > len(bearerPrefix) && strings.EqualFold(token[:len(bearerPrefix)], bearerPrefix) {
		token = strings.TrimSpace(token[len(bearerPrefix):])
	}

	if strings.Count(token, ".") != 2 {
		in.logger.Debug("token has an invalid number of segments")
		return Identity{}
	}

	// only the payload segment is read, the header and signature are ignored
	payload, err := in.parser.DecodeSegment(strings.Split(token, ".")[1])
	if err != nil {
		in.logger.Debug("token payload is not base64url", zap.Error(err))
		return Identity{}
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		in.logger.Debug("token payload could not be decoded", zap.Error(err))
		return Identity{}
	}

	roles := make(map[string]struct{})
	for _, access := range c.ResourceAccess {
		for _, role := range access.Roles {
			roles[role] = struct{}{}
		}
	}

	return Identity{
		Username: c.PreferredUsername,
		roles:    roles,
	}
}
