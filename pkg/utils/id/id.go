package id

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	PrefixContract   = "ctr"
	PrefixPayment    = "pay"
	PrefixWithdrawal = "wdr"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// Generate returns a sortable id of the form "<prefix>_<ulid>".
func Generate(prefix string) string {
	entropyMu.Lock()
	u := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return prefix + "_" + strings.ToLower(u.String())
}

func ContractID() string   { return Generate(PrefixContract) }
func PaymentID() string    { return Generate(PrefixPayment) }
func WithdrawalID() string { return Generate(PrefixWithdrawal) }

// InvitationToken is an unguessable token handed to an invited contributor.
func InvitationToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HasPrefix reports whether s was generated with prefix.
func HasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix+"_")
}
