// Package mcumgr is a client for the MCUmgr Simple Management Protocol
// spoken by Zephyr and Mynewt devices over a serial console. It lists
// the firmware images a device holds, uploads new images in
// device-paced chunks with resume support, and drives resets and
// liveness checks.
//
// A session wraps one serial connection:
//
//	s, err := mcumgr.Open("/dev/ttyACM0", mcumgr.WithBaudRate(115200))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Close()
//
//	result, err := s.Upload(image, mcumgr.WithProgress(func(off, total int) {
//		fmt.Printf("\r%d/%d", off, total)
//	}))
//
// Tests and non-serial callers can substitute any stream that
// implements Conn via NewSession.
//
// Sessions are strictly sequential: one operation at a time, blocking
// until the device answers or the retry budget runs out. They are not
// safe for concurrent use.
package mcumgr
