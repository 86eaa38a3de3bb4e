package mcumgr

import (
	"fmt"

	"github.com/bigbag/go-mcumgr/smp"
)

// ImageSlot describes one firmware slot as reported by the device.
type ImageSlot struct {
	Image     int
	Slot      int
	Version   string
	Hash      []byte
	Bootable  bool
	Pending   bool
	Confirmed bool
	Active    bool
	Permanent bool
}

// List queries the device's installed firmware images.
func (s *Session) List() ([]ImageSlot, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()
	return s.listSlots()
}

func (s *Session) listSlots() ([]ImageSlot, error) {
	req := smp.NewRequest(smp.OpRead, smp.GroupImage, smp.CmdImageState, nil)
	rsp, err := s.roundTrip(req, s.opTimeout())
	if err != nil {
		return nil, err
	}
	if err := checkStatus(rsp); err != nil {
		return nil, err
	}
	return decodeSlots(rsp)
}

func decodeSlots(rsp *smp.Packet) ([]ImageSlot, error) {
	entries, ok := rsp.Fields.List("images")
	if !ok {
		return nil, &smp.MalformedError{Detail: `image state response lacks an "images" list`}
	}

	slots := make([]ImageSlot, 0, len(entries))
	for i, entry := range entries {
		m, ok := entry.Map()
		if !ok {
			return nil, &smp.MalformedError{Detail: fmt.Sprintf("images[%d] is not a map", i)}
		}

		var slot ImageSlot
		if v, ok := m.Int("image"); ok {
			slot.Image = int(v)
		}
		if v, ok := m.Int("slot"); ok {
			slot.Slot = int(v)
		}
		if v, ok := m.Str("version"); ok {
			slot.Version = v
		}
		if v, ok := m.Bytes("hash"); ok {
			slot.Hash = v
		}
		slot.Bootable, _ = m.Bool("bootable")
		slot.Pending, _ = m.Bool("pending")
		slot.Confirmed, _ = m.Bool("confirmed")
		slot.Active, _ = m.Bool("active")
		slot.Permanent, _ = m.Bool("permanent")
		slots = append(slots, slot)
	}
	return slots, nil
}

// Test marks the image with the given hash for the next boot. With
// confirm set the mark survives the reboot; otherwise the device
// reverts unless the new image confirms itself.
func (s *Session) Test(hash []byte, confirm bool) ([]ImageSlot, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	fields := smp.NewMap()
	if len(hash) > 0 {
		fields.Set("hash", smp.Bytes(hash))
	}
	fields.Set("confirm", smp.Bool(confirm))

	req := smp.NewRequest(smp.OpWrite, smp.GroupImage, smp.CmdImageState, fields)
	rsp, err := s.roundTrip(req, s.opTimeout())
	if err != nil {
		return nil, err
	}
	if err := checkStatus(rsp); err != nil {
		return nil, err
	}
	return decodeSlots(rsp)
}

// Confirm makes the currently running image permanent.
func (s *Session) Confirm() ([]ImageSlot, error) {
	return s.Test(nil, true)
}

// Erase erases the firmware in the given slot. Flash erase is slow, so
// the request runs under the initial timeout regardless of session
// age.
func (s *Session) Erase(slot int) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	fields := smp.NewMap().Set("slot", smp.Int(int64(slot)))
	req := smp.NewRequest(smp.OpWrite, smp.GroupImage, smp.CmdImageErase, fields)
	rsp, err := s.roundTrip(req, s.cfg.InitialTimeout)
	if err != nil {
		return err
	}
	return checkStatus(rsp)
}
