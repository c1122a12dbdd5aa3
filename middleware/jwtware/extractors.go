package jwtware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// JWTExtractor pulls a raw token out of a request
type JWTExtractor func(c *fiber.Ctx) (string, error)

// sources maps a TokenLookup source to a builder taking the field name
// and the auth scheme. Only headers care about the scheme.
var sources = map[string]func(name, scheme string) JWTExtractor{
	"header": fromHeader,
	"cookie": func(name, _ string) JWTExtractor { return nonEmpty(func(c *fiber.Ctx) string { return c.Cookies(name) }) },
	"query":  func(name, _ string) JWTExtractor { return nonEmpty(func(c *fiber.Ctx) string { return c.Query(name) }) },
	"param":  func(name, _ string) JWTExtractor { return nonEmpty(func(c *fiber.Ctx) string { return c.Params(name) }) },
}

// GetExtractors parses a lookup such as
// "header:Authorization,cookie:accessToken,query:token" into extractors.
// Unknown or malformed entries are skipped.
func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	scheme := "Bearer"
	if len(authSchemes) > 0 {
		scheme = strings.TrimSpace(authSchemes[0])
	}

	var out []JWTExtractor
	for _, part := range strings.Split(tokenLookup, ",") {
		source, name, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		build, known := sources[strings.TrimSpace(source)]
		if !known {
			continue
		}
		out = append(out, build(strings.TrimSpace(name), scheme))
	}
	return out
}

// ExtractRawToken returns the first token any extractor finds
func ExtractRawToken(c *fiber.Ctx, extractors []JWTExtractor) (string, error) {
	lastErr := ErrJWTMissingOrMalformed
	for _, extract := range extractors {
		raw, err := extract(c)
		if err == nil && raw != "" {
			return raw, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return "", lastErr
}

func fromHeader(name, scheme string) JWTExtractor {
	prefix := scheme + " "
	return func(c *fiber.Ctx) (string, error) {
		value := c.Get(name)
		if scheme == "" || len(value) <= len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
			return "", ErrJWTMissingOrMalformed
		}
		token := strings.TrimSpace(value[len(prefix):])
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func nonEmpty(read func(c *fiber.Ctx) string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		if token := read(c); token != "" {
			return token, nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}
