// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
	"k8s.io/utils/ptr"

	"github.com/alexandremahdhaoui/canlink/internal/types"
	"github.com/alexandremahdhaoui/canlink/pkg/execcontext"
)

var (
	ErrLinkNameRequired = errors.New("link name is required")
	ErrListLinks        = errors.New("failed to list links")
	ErrAddLink          = errors.New("failed to add link")
	ErrDeleteLink       = errors.New("failed to delete link")
	ErrSetLinkState     = errors.New("failed to set link state")
	ErrSetLinkTiming    = errors.New("failed to set link bit timing")
)

// --------------------------------------------------- INTERFACE ---------------------------------------------------- //

// LinkManager manages CAN-family network links.
type LinkManager interface {
	// List returns every CAN-family link. Kind is derived from the link type only.
	List(ctx context.Context) ([]types.InterfaceDescriptor, error)
	// AddVirtual creates a vcan link.
	AddVirtual(ctx context.Context, name string) error
	// Delete removes a link. Returns ErrResourceAbsent or ErrNotDeletable.
	Delete(ctx context.Context, name string) error
	SetUp(ctx context.Context, name string) error
	SetDown(ctx context.Context, name string) error
	// SetTiming sets the CAN bitrate and, if not empty, the sample point.
	SetTiming(ctx context.Context, name string, bitrate uint32, samplePoint string) error
}

// ---------------------------------------------------- NETLINK ----------------------------------------------------- //

// NewLinkManager returns a LinkManager backed by rtnetlink. Bit timing goes through `ip`
// because rtnetlink CAN attributes are not writable through the netlink library.
func NewLinkManager(runner execcontext.Runner) LinkManager {
	return &netlinkManager{runner: runner}
}

type netlinkManager struct {
	runner execcontext.Runner
}

func (m *netlinkManager) List(_ context.Context) ([]types.InterfaceDescriptor, error) {
	links, err := netlink.LinkList()
	if err != nil && !errors.Is(err, netlink.ErrDumpInterrupted) {
		return nil, fmt.Errorf("%w: %v", ErrListLinks, err)
	}

	out := make([]types.InterfaceDescriptor, 0)
	for _, link := range links {
		if d, ok := DescriptorFromLink(link); ok {
			out = append(out, d)
		}
	}

	return out, nil
}

func (m *netlinkManager) AddVirtual(_ context.Context, name string) error {
	if name == "" {
		return ErrLinkNameRequired
	}

	attrs := netlink.NewLinkAttrs()
	attrs.Name = name
	if err := netlink.LinkAdd(&netlink.GenericLink{LinkAttrs: attrs, LinkType: "vcan"}); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAddLink, name, translateLinkErr(err))
	}

	return nil
}

func (m *netlinkManager) Delete(_ context.Context, name string) error {
	link, err := m.byName(name)
	if err != nil {
		return err
	}

	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeleteLink, name, translateDeleteErr(err))
	}

	return nil
}

func (m *netlinkManager) SetUp(_ context.Context, name string) error {
	link, err := m.byName(name)
	if err != nil {
		return err
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("%w: %s up: %w", ErrSetLinkState, name, translateLinkErr(err))
	}

	return nil
}

func (m *netlinkManager) SetDown(_ context.Context, name string) error {
	link, err := m.byName(name)
	if err != nil {
		return err
	}

	if err := netlink.LinkSetDown(link); err != nil {
		return fmt.Errorf("%w: %s down: %w", ErrSetLinkState, name, translateLinkErr(err))
	}

	return nil
}

func (m *netlinkManager) SetTiming(ctx context.Context, name string, bitrate uint32, samplePoint string) error {
	if name == "" {
		return ErrLinkNameRequired
	}

	// ip link set <name> type can bitrate <bitrate> [sample-point <sp>]
	args := []string{"link", "set", name, "type", "can", "bitrate", strconv.FormatUint(uint64(bitrate), 10)}
	if samplePoint != "" {
		args = append(args, "sample-point", samplePoint)
	}

	if output, err := m.runner.Run(ctx, "ip", args...); err != nil {
		if strings.Contains(string(output), "does not exist") || strings.Contains(string(output), "Cannot find device") {
			return fmt.Errorf("%w: %w: %s", ErrSetLinkTiming, types.ErrResourceAbsent, name)
		}
		return fmt.Errorf("%w: %w", ErrSetLinkTiming, err)
	}

	return nil
}

func (m *netlinkManager) byName(name string) (netlink.Link, error) {
	if name == "" {
		return nil, ErrLinkNameRequired
	}

	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: link %s", types.ErrResourceAbsent, name)
		}
		return nil, translateLinkErr(err)
	}

	return link, nil
}

// DescriptorFromLink converts a netlink link into a descriptor. It returns false for links
// that are not CAN-family.
func DescriptorFromLink(link netlink.Link) (types.InterfaceDescriptor, bool) {
	attrs := link.Attrs()
	if attrs == nil {
		return types.InterfaceDescriptor{}, false
	}

	d := types.InterfaceDescriptor{
		Name:       attrs.Name,
		Kind:       types.KindUnknown,
		AdminState: types.AdminDown,
	}
	if attrs.Flags&net.FlagUp != 0 {
		d.AdminState = types.AdminUp
	}

	switch l := link.(type) {
	case *netlink.Can:
		d.Kind = types.KindNative
		if l.BitRate > 0 {
			d.Bitrate = ptr.To(l.BitRate)
		}
		if l.SamplePoint > 0 {
			d.SamplePoint = ptr.To(FormatSamplePoint(l.SamplePoint))
		}
		return d, true
	}

	switch link.Type() {
	case "vcan":
		d.Kind = types.KindVirtual
		return d, true
	case "vxcan":
		return d, true
	}

	if attrs.EncapType == "can" || types.IsCANFamilyName(attrs.Name) {
		return d, true
	}

	return types.InterfaceDescriptor{}, false
}

// FormatSamplePoint converts the kernel's tenths-of-percent sample point (875) to a ratio ("0.875").
func FormatSamplePoint(tenthsOfPercent uint32) string {
	return strconv.FormatFloat(float64(tenthsOfPercent)/1000, 'f', -1, 64)
}

func translateLinkErr(err error) error {
	switch {
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENOENT):
		return fmt.Errorf("%w: %v", types.ErrResourceAbsent, err)
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("%w: %v", types.ErrResourceBusy, err)
	default:
		return err
	}
}

// Physical CAN controllers reject RTM_DELLINK with EOPNOTSUPP; they can only be set down.
func translateDeleteErr(err error) error {
	switch {
	case errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %v", types.ErrNotDeletable, err)
	default:
		return translateLinkErr(err)
	}
}
