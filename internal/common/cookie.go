package common

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// cookieAlphabet is the URL-safe alphabet used for job cookies: the decimal
// digits minus 0 and 1, followed by the lower- and upper-case letters.
const cookieAlphabet = "23456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// CookieJar mints unique, URL-safe job identifiers. A cookie is derived from
// the wall-clock time and a monotonic submission counter, re-encoded into a
// short alphabet and prefixed with a letter so it never starts with a digit.
type CookieJar struct {
	mu      sync.Mutex
	counter uint64
	now     func() time.Time
}

// NewCookieJar creates a cookie minter.
func NewCookieJar() *CookieJar {
	return &CookieJar{now: time.Now}
}

// Mint returns a cookie that is not taken. A non-empty preferred id is
// honored when free; otherwise fresh cookies are generated until one is
// unique among the live jobs.
func (c *CookieJar) Mint(preferred string, taken func(string) bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	cookie := preferred
	for cookie == "" || taken(cookie) {
		seed := c.now().Format("20060102150405") + strconv.FormatUint(c.counter, 10)
		c.counter++
		cookie = "i" + encodeCookie(seed)
	}
	return cookie
}

// encodeCookie re-encodes a decimal digit string into the cookie alphabet.
func encodeCookie(digits string) string {
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		// Digit strings longer than a uint64 are folded chunk-wise.
		var b strings.Builder
		for len(digits) > 0 {
			chunk := digits
			if len(chunk) > 18 {
				chunk = digits[:18]
			}
			digits = digits[len(chunk):]
			b.WriteString(encodeCookie(chunk))
		}
		return b.String()
	}

	base := uint64(len(cookieAlphabet))
	var b strings.Builder
	for {
		b.WriteByte(cookieAlphabet[n%base])
		if n < base-1 {
			break
		}
		n = n/base - 1
	}
	return b.String()
}
