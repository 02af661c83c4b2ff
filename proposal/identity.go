package proposal

import (
	"fmt"

	"github.com/felipebianchini2006/sistemacadastro-sub001/pii"
)

// Decrypt opens every populated identity field. The returned Person must stay
// on the caller's stack; nothing decrypted is ever persisted.
func (i Identity) Decrypt(codec *pii.Codec) (Person, error) {
	var person Person
	fields := []struct {
		dst *string
		enc []byte
	}{
		{&person.Name, i.NameEnc},
		{&person.CPF, i.CPFEnc},
		{&person.BirthDate, i.BirthEnc},
		{&person.Email, i.EmailEnc},
		{&person.Phone, i.PhoneEnc},
	}
	for _, f := range fields {
		if len(f.enc) == 0 {
			continue
		}
		plain, err := codec.Decrypt(f.enc)
		if err != nil {
			return Person{}, fmt.Errorf("proposal: decrypt identity field: %w", err)
		}
		*f.dst = plain
	}
	person.Roles = i.Roles
	return person, nil
}
