package message

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// BranchMagicCookie is the RFC 3261 branch prefix identifying a
// compliant transaction ID
const BranchMagicCookie = "z9hG4bK"

// GenerateBranch generates a globally unique branch parameter
func GenerateBranch() string {
	return BranchMagicCookie + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateTag generates a From/To tag
func GenerateTag() string {
	return uuid.NewString()[:8]
}

// GenerateCallID generates a Call-ID scoped to the given host
func GenerateCallID(host string) string {
	return fmt.Sprintf("%s@%s", uuid.NewString(), host)
}
