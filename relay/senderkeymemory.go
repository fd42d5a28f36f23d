package relay

import (
	"encoding/json"

	"github.com/xx-net/wacore/jid"
	"github.com/xx-net/wacore/keystore"
)

const senderKeyMemoryType = "sender-key-memory"

// loadSenderKeyMemory reads group's {deviceJid -> bool} row from the
// key store.
func loadSenderKeyMemory(tx *keystore.Tx, group jid.JID) (map[string]bool, error) {
	key := keystore.Key{Type: senderKeyMemoryType, ID: group.ToNonAD().String()}
	got, err := tx.Get([]keystore.Key{key})
	if err != nil {
		return nil, err
	}
	raw, ok := got[key]
	if !ok || len(raw) == 0 {
		return make(map[string]bool), nil
	}
	var memory map[string]bool
	if err := json.Unmarshal(raw, &memory); err != nil {
		return make(map[string]bool), nil
	}
	return memory, nil
}

// storeSenderKeyMemory persists group's updated row inside the current
// transaction.
func storeSenderKeyMemory(tx *keystore.Tx, group jid.JID, memory map[string]bool) error {
	raw, err := json.Marshal(memory)
	if err != nil {
		return err
	}
	key := keystore.Key{Type: senderKeyMemoryType, ID: group.ToNonAD().String()}
	return tx.Set(map[keystore.Key][]byte{key: raw})
}

// clearSenderKeyMemory drops every row for group, called when the
// sender key for the group is rotated.
func clearSenderKeyMemory(tx *keystore.Tx, group jid.JID) error {
	return storeSenderKeyMemory(tx, group, make(map[string]bool))
}

// RotateGroupSenderKey drops this device's sender-key session for
// group and clears its sender-key-memory row, so the next
// RelayMessage to group generates a fresh sender key and
// redistributes it to every current member.
func (e *Engine) RotateGroupSenderKey(tx *keystore.Tx, group jid.JID) error {
	if err := e.Signal.DeleteSenderKeySession(tx, group, e.OwnJID); err != nil {
		return err
	}
	return clearSenderKeyMemory(tx, group)
}
