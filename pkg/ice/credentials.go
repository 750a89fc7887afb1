package ice

import (
	"github.com/pion/randutil"
)

// Credential lengths generated by GenerateCredentials. RFC 8445 Section 5.3
// requires at least 24 bits of randomness in the ufrag and 128 in the password.
const (
	UfragLength = 16
	PwdLength   = 32

	minUfragLength = 4
	minPwdLength   = 22
	maxCredLength  = 256
)

const runesICEChar = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+/"

// Credentials are one side's ICE username fragment and password.
type Credentials struct {
	Ufrag string
	Pwd   string
}

// GenerateCredentials returns fresh random credentials.
func GenerateCredentials() (Credentials, error) {
	ufrag, err := randutil.GenerateCryptoRandomString(UfragLength, runesICEChar)
	if err != nil {
		return Credentials{}, err
	}
	pwd, err := randutil.GenerateCryptoRandomString(PwdLength, runesICEChar)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Ufrag: ufrag, Pwd: pwd}, nil
}

// Validate checks lengths and the ice-char alphabet (RFC 8839 Section 5.4).
func (c Credentials) Validate() error {
	if !validICEString(c.Ufrag, minUfragLength) {
		return ErrInvalidUfrag
	}
	if !validICEString(c.Pwd, minPwdLength) {
		return ErrInvalidPwd
	}
	return nil
}

// Key returns the short-term credential HMAC key.
func (c Credentials) Key() []byte {
	return []byte(c.Pwd)
}

func validICEString(s string, minLen int) bool {
	if len(s) < minLen || len(s) > maxCredLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '+', ch == '/':
		default:
			return false
		}
	}
	return true
}
