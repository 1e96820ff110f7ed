package protocol

import "encoding/json"

// Identities, seeds, addresses, and randomness values marshal as base58
// strings, matching how the ledger renders them.

func (id Identity) MarshalJSON() ([]byte, error) { return json.Marshal(id.String()) }

func (id *Identity) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	parsed, err := IdentityFromBase58(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (s Seed) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Seed) UnmarshalJSON(raw []byte) error {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return err
	}
	decoded, err := decodeBase58(str, SeedSize)
	if err != nil {
		return err
	}
	copy(s[:], decoded)
	return nil
}

func (a Address) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

func (a *Address) UnmarshalJSON(raw []byte) error {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return err
	}
	parsed, err := AddressFromBase58(str)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (r Randomness) MarshalJSON() ([]byte, error) { return json.Marshal(r.String()) }

func (r *Randomness) UnmarshalJSON(raw []byte) error {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return err
	}
	decoded, err := decodeBase58(str, RandomnessSize)
	if err != nil {
		return err
	}
	copy(r[:], decoded)
	return nil
}
