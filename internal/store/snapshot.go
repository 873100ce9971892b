package store

import "fmt"

// FindCredential resolves a credential by client_id or alias.
func (s *Snapshot) FindCredential(ref string) (*CredentialSet, error) {
	for i := range s.Credentials {
		if s.Credentials[i].Matches(ref) {
			return &s.Credentials[i], nil
		}
	}
	return nil, fmt.Errorf("credential %q: %w", ref, ErrNotFound)
}

// AddCredential adds a credential set, enforcing client_id and alias
// uniqueness. The snapshot is unchanged when the add is rejected.
func (s *Snapshot) AddCredential(cred CredentialSet) error {
	if cred.Alias == "" {
		cred.Alias = DeriveAlias(cred.Name)
	}

	for i := range s.Credentials {
		if s.Credentials[i].ClientID == cred.ClientID {
			return fmt.Errorf("client_id %q: %w", cred.ClientID, ErrDuplicateIdentifier)
		}
		if s.Credentials[i].Alias == cred.Alias {
			return fmt.Errorf("alias %q: %w", cred.Alias, ErrDuplicateIdentifier)
		}
	}

	s.Credentials = append(s.Credentials, cred)
	return nil
}

// RemoveCredential removes a credential by client_id or alias, cascading to
// all of its tokens.
func (s *Snapshot) RemoveCredential(ref string) error {
	cred, err := s.FindCredential(ref)
	if err != nil {
		return err
	}
	clientID := cred.ClientID

	kept := s.Credentials[:0]
	for _, c := range s.Credentials {
		if c.ClientID != clientID {
			kept = append(kept, c)
		}
	}
	s.Credentials = kept

	keptTokens := s.Tokens[:0]
	for _, t := range s.Tokens {
		if t.OwningCredential != clientID {
			keptTokens = append(keptTokens, t)
		}
	}
	s.Tokens = keptTokens

	return nil
}

// UpsertToken inserts or replaces a token keyed by (owning_credential,
// character_id). The owning credential must exist.
func (s *Snapshot) UpsertToken(token CharacterToken) error {
	if _, err := s.FindCredential(token.OwningCredential); err != nil {
		return err
	}

	for i := range s.Tokens {
		if s.Tokens[i].OwningCredential == token.OwningCredential &&
			s.Tokens[i].CharacterID == token.CharacterID {
			s.Tokens[i] = token
			return nil
		}
	}

	s.Tokens = append(s.Tokens, token)
	return nil
}

// RemoveCharacter removes one character's token under the referenced
// credential.
func (s *Snapshot) RemoveCharacter(ref string, characterID int64) error {
	cred, err := s.FindCredential(ref)
	if err != nil {
		return err
	}

	for i := range s.Tokens {
		if s.Tokens[i].OwningCredential == cred.ClientID && s.Tokens[i].CharacterID == characterID {
			s.Tokens = append(s.Tokens[:i], s.Tokens[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("character %d under credential %q: %w", characterID, ref, ErrNotFound)
}

// TokensFor returns clones of all tokens owned by the referenced credential.
func (s *Snapshot) TokensFor(ref string) ([]CharacterToken, error) {
	cred, err := s.FindCredential(ref)
	if err != nil {
		return nil, err
	}

	var tokens []CharacterToken
	for i := range s.Tokens {
		if s.Tokens[i].OwningCredential == cred.ClientID {
			tokens = append(tokens, s.Tokens[i].Clone())
		}
	}
	return tokens, nil
}

// TokenFor returns a clone of one character's token under the referenced
// credential.
func (s *Snapshot) TokenFor(ref string, characterID int64) (CharacterToken, error) {
	cred, err := s.FindCredential(ref)
	if err != nil {
		return CharacterToken{}, err
	}

	for i := range s.Tokens {
		if s.Tokens[i].OwningCredential == cred.ClientID && s.Tokens[i].CharacterID == characterID {
			return s.Tokens[i].Clone(), nil
		}
	}

	return CharacterToken{}, fmt.Errorf("character %d under credential %q: %w", characterID, ref, ErrNotFound)
}
