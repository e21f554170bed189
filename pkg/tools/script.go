package tools

import (
	"fmt"
	"regexp"
	"time"

	"github.com/vigil-ops/vigil/pkg/masking"
)

// MaxScriptSize caps execute_script content length.
const MaxScriptSize = 64 * 1024

// MaxScriptTimeout caps how long a sandboxed script may run.
const MaxScriptTimeout = 5 * time.Minute

// denyPattern pairs a compiled regex with the human-readable reason used
// in the rejection error.
type denyPattern struct {
	re     *regexp.Regexp
	reason string
}

var defaultDenyPatterns = []denyPattern{
	{regexp.MustCompile(`(?i)\brm\s+(-[a-z]*\s+)*(/|--no-preserve-root)`), "destructive filesystem operation"},
	{regexp.MustCompile(`(?i)\bmkfs(\.\w+)?\b`), "filesystem creation"},
	{regexp.MustCompile(`(?i)\bdd\s+[^|;]*of=/dev/`), "raw device write"},
	{regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]`), "raw device write"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`), "fork bomb"},
	{regexp.MustCompile(`(?i)\b(shutdown|reboot|halt|poweroff)\b`), "host power control"},
	{regexp.MustCompile(`(?i)\b(iptables|nftables|nft)\b[^|;]*\b(-F|flush)\b`), "firewall flush"},
	{regexp.MustCompile(`(?i)\bcurl\b[^|;]*\|\s*(ba)?sh\b`), "remote code pipe"},
	{regexp.MustCompile(`(?i)\bwget\b[^|;]*\|\s*(ba)?sh\b`), "remote code pipe"},
	{regexp.MustCompile(`(?i)\buserdel\b|\bpasswd\b|\bchpasswd\b`), "account manipulation"},
}

// ScriptValidator statically screens execute_script content before it is
// handed to the sandbox. The sandbox is the real isolation boundary; this
// layer rejects the obviously destructive and anything that embeds a
// credential.
type ScriptValidator struct {
	deny     []denyPattern
	redactor *masking.Redactor
}

// NewScriptValidator creates a validator using the built-in deny list and
// the given redactor for secret scanning.
func NewScriptValidator(redactor *masking.Redactor) *ScriptValidator {
	return &ScriptValidator{deny: defaultDenyPatterns, redactor: redactor}
}

// Validate rejects oversized scripts, deny-listed constructs, and content
// containing secret material.
func (v *ScriptValidator) Validate(content string) error {
	if content == "" {
		return fmt.Errorf("script content is empty")
	}
	if len(content) > MaxScriptSize {
		return fmt.Errorf("script content exceeds %d bytes", MaxScriptSize)
	}
	for _, p := range v.deny {
		if p.re.MatchString(content) {
			return fmt.Errorf("script rejected: %s", p.reason)
		}
	}
	if v.redactor != nil && v.redactor.ContainsSecret(content) {
		return fmt.Errorf("script rejected: contains secret material")
	}
	return nil
}
