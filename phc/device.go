/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package phc

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Missing from sys/unix package, defined in Linux include/uapi/linux/ptp_clock.h
const (
	ptpMaxSamples = 25
	ptpClkMagic   = '='
)

// Linux ioctl request-code encoding (include/uapi/asm-generic/ioctl.h).
// golang.org/x/sys/unix doesn't export a generic IOWR builder, only the
// fixed request codes it already knows about, so PTP_SYS_OFFSET_EXTENDED's
// code is built the same way the kernel headers do.
const (
	iocNRBits    = 8
	iocTypeBits  = 8
	iocSizeBits  = 14
	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
	iocRead      = 2
	iocWrite     = 1
)

func iowr(t byte, nr uint, size uintptr) uintptr {
	dir := uintptr(iocRead | iocWrite)
	return (dir << iocDirShift) | (uintptr(t) << iocTypeShift) | (uintptr(nr) << iocNRShift) | (size << iocSizeShift)
}

// ioctlPTPSysOffsetExtended is the PTP_SYS_OFFSET_EXTENDED ioctl request.
var ioctlPTPSysOffsetExtended = iowr(ptpClkMagic, 9, unsafe.Sizeof(PTPSysOffsetExtended{}))

// Ifreq is the request sent with the SIOCETHTOOL ioctl, as per the
// Linux kernel's include/uapi/linux/if.h.
type Ifreq struct {
	Name [unix.IFNAMSIZ]byte
	Data uintptr
}

// EthtoolTSinfo holds a device's timestamping and PHC association, as
// per the Linux kernel's include/uapi/linux/ethtool.h.
type EthtoolTSinfo struct {
	Cmd            uint32
	SOtimestamping uint32
	PHCIndex       int32
	TXTypes        uint32
	TXReserved     [3]uint32
	RXFilters      uint32
	RXReserved     [3]uint32
}

// PTPSysOffsetExtended as defined in linux/ptp_clock.h.
type PTPSysOffsetExtended struct {
	NSamples uint32    /* Desired number of measurements. */
	Reserved [3]uint32 /* Reserved for future use. */
	/*
	 * Array of [system, phc, system] time stamps. The kernel provides
	 * 3*n_samples time stamps:
	 * - system time right before reading the lowest bits of the PHC timestamp
	 * - PHC time
	 * - system time immediately after reading the lowest bits of the PHC timestamp
	 */
	TS [ptpMaxSamples][3]PTPClockTime
}

// IfaceInfo uses the SIOCETHTOOL ioctl to look up the PHC index
// associated with a network interface, e.g. "eth0".
func IfaceInfo(iface string) (*EthtoolTSinfo, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket for ioctl: %w", err)
	}
	defer unix.Close(fd)

	data := &EthtoolTSinfo{Cmd: unix.ETHTOOL_GET_TS_INFO}
	ifreq := &Ifreq{}
	copy(ifreq.Name[:unix.IFNAMSIZ-1], iface)
	ifreq.Data = uintptr(unsafe.Pointer(data))
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL, uintptr(fd),
		uintptr(unix.SIOCETHTOOL),
		uintptr(unsafe.Pointer(ifreq)),
	)
	if errno != 0 {
		return nil, fmt.Errorf("failed get phc ID: %w", errno)
	}
	return data, nil
}

// IfaceData pairs a net.Interface with its EthtoolTSinfo.
type IfaceData struct {
	Iface  net.Interface
	TSInfo EthtoolTSinfo
}

// IfacesInfo is like net.Interfaces() but with PHC association attached.
func IfacesInfo() ([]IfaceData, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	res := make([]IfaceData, 0, len(ifaces))
	for _, iface := range ifaces {
		data, err := IfaceInfo(iface.Name)
		if err != nil {
			return nil, err
		}
		res = append(res, IfaceData{Iface: iface, TSInfo: *data})
	}
	return res, nil
}
