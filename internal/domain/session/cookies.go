package session

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// CookieSet writes and reads one role's session cookies. User and
// admin sessions are the same mechanism under different prefixes and
// lifetimes; this type is the only place that difference lives.
type CookieSet struct {
	Prefix string
	Domain string
	MaxAge time.Duration
}

func (cs CookieSet) tokenName() string { return cs.Prefix + "_token" }
func (cs CookieSet) sidName() string   { return cs.Prefix + "_sid" }
func (cs CookieSet) uidName() string   { return cs.Prefix + "_uid" }

// Write sets the three session cookies: the opaque bearer token, the
// session id and the account id.
func (cs CookieSet) Write(c *fiber.Ctx, accountID uuid.UUID, token, sessionID string) {
	expires := time.Now().Add(cs.MaxAge)
	for name, value := range map[string]string{
		cs.tokenName(): token,
		cs.sidName():   sessionID,
		cs.uidName():   accountID.String(),
	} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    value,
			Domain:   cs.Domain,
			Path:     "/",
			Expires:  expires,
			HTTPOnly: true,
			Secure:   true,
			SameSite: "Strict",
		})
	}
}

// Read extracts the session proof from the request cookies. ok is
// false when any of the three is missing or the account id does not
// parse.
func (cs CookieSet) Read(c *fiber.Ctx) (Proof, bool) {
	token := c.Cookies(cs.tokenName())
	sid := c.Cookies(cs.sidName())
	uid := c.Cookies(cs.uidName())
	if token == "" || sid == "" || uid == "" {
		return Proof{}, false
	}

	accountID, err := uuid.Parse(uid)
	if err != nil {
		return Proof{}, false
	}

	return Proof{AccountID: accountID, Token: token, SessionID: sid}, true
}

// Clear expires the three session cookies.
func (cs CookieSet) Clear(c *fiber.Ctx) {
	expired := time.Now().Add(-time.Hour)
	for _, name := range []string{cs.tokenName(), cs.sidName(), cs.uidName()} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Domain:   cs.Domain,
			Path:     "/",
			Expires:  expired,
			HTTPOnly: true,
			Secure:   true,
			SameSite: "Strict",
		})
	}
}
