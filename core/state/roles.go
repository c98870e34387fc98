package state

import (
	"bytes"
	"fmt"
	"strings"

	"usdsvault/crypto"
)

var rolePrefix = []byte("role/")

func roleKey(role string) []byte {
	return append(append([]byte(nil), rolePrefix...), strings.ToLower(strings.TrimSpace(role))...)
}

// SetRole grants or revokes role for addr.
func (m *Manager) SetRole(role string, addr crypto.Address, enabled bool) error {
	if strings.TrimSpace(role) == "" {
		return fmt.Errorf("role must not be empty")
	}
	members, err := m.roleMembers(role)
	if err != nil {
		return err
	}
	filtered := make([][]byte, 0, len(members))
	for _, member := range members {
		if !bytes.Equal(member, addr[:]) {
			filtered = append(filtered, member)
		}
	}
	if enabled {
		filtered = append(filtered, addr.Bytes())
	}
	if len(filtered) == 0 {
		return m.KVDelete(roleKey(role))
	}
	return m.KVPut(roleKey(role), filtered)
}

func (m *Manager) roleMembers(role string) ([][]byte, error) {
	var members [][]byte
	if err := m.KVGetList(roleKey(role), &members); err != nil {
		return nil, err
	}
	return members, nil
}

// RoleMembers returns every address holding role.
func (m *Manager) RoleMembers(role string) ([]crypto.Address, error) {
	members, err := m.roleMembers(role)
	if err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(members))
	for _, member := range members {
		out = append(out, crypto.BytesToAddress(member))
	}
	return out, nil
}

// HasRole reports whether addr holds role. Lookup failures are treated as a
// missing role.
func (m *Manager) HasRole(role string, addr crypto.Address) bool {
	members, err := m.roleMembers(role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr[:]) {
			return true
		}
	}
	return false
}
