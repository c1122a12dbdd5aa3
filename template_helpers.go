package auth

import (
	"fmt"
	"strings"
	"time"
)

// TemplateUserKey is the context key of the recipient in email templates
var TemplateUserKey = "user"

// TemplateHelpers returns the functions and data available to every email
// template.
//
// In templates you can then use:
//
//	{{ display_name(user) }}
//	{{ format_ttl(ttl) }}
//	{% if user.Role == roles.admin %}
func TemplateHelpers(appName string) map[string]any {
	return map[string]any{
		"app_name":     appName,
		"display_name": displayName,
		"format_ttl":   formatTTL,
		"roles": map[string]UserRole{
			"member":        RoleMember,
			"project_admin": RoleProjectAdmin,
			"admin":         RoleAdmin,
		},
	}
}

// TemplateHelpersWithUser returns template helpers with user set as the recipient.
func TemplateHelpersWithUser(appName string, user *User) map[string]any {
	helpers := TemplateHelpers(appName)
	helpers[TemplateUserKey] = user.Sanitized()
	return helpers
}

func displayName(user *User) string {
	if user == nil {
		return "there"
	}
	if name := strings.TrimSpace(user.FullName); name != "" {
		return name
	}
	return user.Username
}

func formatTTL(ttl time.Duration) string {
	switch {
	case ttl <= 0:
		return "a short while"
	case ttl%time.Hour == 0:
		return plural(int(ttl/time.Hour), "hour")
	case ttl%time.Minute == 0:
		return plural(int(ttl/time.Minute), "minute")
	default:
		return ttl.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
