//go:build windows

package serial

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// osPort wraps a raw Windows file handle configured via a DCB, used for
// production (non-test) serial sessions on Windows.
type osPort struct {
	handle windows.Handle
}

func (p *osPort) Read(b []byte) (int, error) {
	var n uint32
	err := windows.ReadFile(p.handle, b, &n, nil)
	return int(n), err
}

func (p *osPort) Write(b []byte) (int, error) {
	var n uint32
	err := windows.WriteFile(p.handle, b, &n, nil)
	return int(n), err
}

func (p *osPort) Close() error { return windows.CloseHandle(p.handle) }

func openOSPort(port string, baud int) (Port, error) {
	path, err := windows.UTF16PtrFromString(`\\.\` + port)
	if err != nil {
		return nil, err
	}

	handle, err := windows.CreateFile(path,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, nil, windows.OPEN_EXISTING, windows.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		return nil, err
	}

	var dcb windows.DCB
	dcb.DCBlength = uint32(unsafe.Sizeof(dcb))
	if err := windows.GetCommState(handle, &dcb); err != nil {
		windows.CloseHandle(handle)
		return nil, err
	}
	dcb.BaudRate = uint32(baud)
	dcb.ByteSize = 8
	dcb.StopBits = 0 // ONESTOPBIT
	dcb.Parity = 0   // NOPARITY
	if err := windows.SetCommState(handle, &dcb); err != nil {
		windows.CloseHandle(handle)
		return nil, err
	}

	timeouts := windows.CommTimeouts{
		ReadIntervalTimeout:        50,
		ReadTotalTimeoutMultiplier: 10,
		ReadTotalTimeoutConstant:   100,
	}
	if err := windows.SetCommTimeouts(handle, &timeouts); err != nil {
		windows.CloseHandle(handle)
		return nil, err
	}

	return &osPort{handle: handle}, nil
}
