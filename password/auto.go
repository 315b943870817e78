package password

// Scheme is one hashing algorithm that can tell its own digests apart.
type Scheme interface {
	Hash(password string) (string, error)
	Verify(password string, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
	Recognizes(encodedHash string) bool
}

// Auto hashes with the primary scheme and verifies with whichever scheme
// recognizes the stored digest.
type Auto struct {
	primary Scheme
	legacy  []Scheme
}

// NewAuto combines a primary scheme with verify-only legacy schemes.
func NewAuto(primary Scheme, legacy ...Scheme) *Auto {
	return &Auto{primary: primary, legacy: legacy}
}

func (a *Auto) Hash(password string) (string, error) {
	return a.primary.Hash(password)
}

func (a *Auto) Verify(password string, encodedHash string) (bool, error) {
	scheme := a.schemeFor(encodedHash)
	if scheme == nil {
		return false, ErrUnsupportedHash
	}
	return scheme.Verify(password, encodedHash)
}

// NeedsUpgrade is true for any digest not produced by the primary scheme.
func (a *Auto) NeedsUpgrade(encodedHash string) (bool, error) {
	if a.primary.Recognizes(encodedHash) {
		return a.primary.NeedsUpgrade(encodedHash)
	}
	if a.schemeFor(encodedHash) == nil {
		return false, ErrUnsupportedHash
	}
	return true, nil
}

func (a *Auto) schemeFor(encodedHash string) Scheme {
	if a.primary.Recognizes(encodedHash) {
		return a.primary
	}
	for _, s := range a.legacy {
		if s.Recognizes(encodedHash) {
			return s
		}
	}
	return nil
}
