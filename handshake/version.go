package handshake

import (
	"errors"

	"github.com/nardo/tnlgo/classreg"
)

// ErrVersionMismatch is returned when the negotiated class count doesn't
// land on a version border for either peer.
var ErrVersionMismatch = errors.New("handshake: version mismatch")

// NegotiateClassCount computes the effective class count for one
// (group, type) axis: the minimum of what each side advertised, which
// must be a version border in registry. Only the host calls it (from
// tnl.NetInterface's ConnectRequest handling, against its own registry);
// the initiator does not check the count against its registry.
func NegotiateClassCount(registry *classreg.Registry, group uint32, typ classreg.ClassType, localCount, remoteCount int) (int, error) {
	effective := localCount
	if remoteCount < effective {
		effective = remoteCount
	}
	if !registry.IsVersionBorder(group, typ, effective) {
		return 0, ErrVersionMismatch
	}
	return effective, nil
}
