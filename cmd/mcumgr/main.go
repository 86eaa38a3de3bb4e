package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	mcumgr "github.com/bigbag/go-mcumgr"
	"github.com/bigbag/go-mcumgr/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	deviceFlag         string
	baudFlag           int
	timeoutFlag        time.Duration
	initialTimeoutFlag time.Duration
	retriesFlag        int
	mtuFlag            int
	lineLengthFlag     int
	logLevelFlag       string

	imageFlag     int
	chunkSizeFlag int
	confirmFlag   bool
	slotFlag      int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mcumgr",
		Short: "Manage MCUmgr devices over a serial console",
		Long: `mcumgr talks the Simple Management Protocol to Zephyr and Mynewt
devices over a serial console: list firmware images, upload new ones
with resume support, mark images for the next boot and reboot the
device.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Initialize(logLevelFlag)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&deviceFlag, "device", "d", "", "Serial device (e.g. /dev/ttyACM0)")
	pf.IntVarP(&baudFlag, "baud", "b", mcumgr.DefaultBaudRate, "Baud rate")
	pf.DurationVar(&timeoutFlag, "timeout", mcumgr.DefaultTimeout, "Per-attempt response timeout")
	pf.DurationVar(&initialTimeoutFlag, "initial-timeout", mcumgr.DefaultInitialTimeout, "Timeout for the first exchange and flash erase")
	pf.IntVar(&retriesFlag, "retries", mcumgr.DefaultRetries, "Resends per failed request")
	pf.IntVar(&mtuFlag, "mtu", mcumgr.DefaultMTU, "Maximum encoded request size")
	pf.IntVar(&lineLengthFlag, "line-length", mcumgr.DefaultLineLength, "Maximum console line length")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log verbosity (debug, info, warn, error)")

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List firmware images on the device",
		RunE:  runList,
	}

	// Upload command
	uploadCmd := &cobra.Command{
		Use:   "upload <image.bin>",
		Short: "Upload a firmware image",
		Long: `Upload a firmware image to the device.

The transfer resumes from whatever offset the device already holds, so
an interrupted upload continues instead of starting over.`,
		Args: cobra.ExactArgs(1),
		RunE: runUpload,
	}
	uploadCmd.Flags().IntVarP(&imageFlag, "image", "n", 0, "Target image number")
	uploadCmd.Flags().IntVar(&chunkSizeFlag, "chunk-size", 0, "Image bytes per request (0 derives from MTU)")

	// Test command
	testCmd := &cobra.Command{
		Use:   "test <hash>",
		Short: "Mark an image for the next boot",
		Long: `Mark the image with the given hex hash for the next boot.

Without --confirm the device reverts to the old image unless the new
one confirms itself after booting.`,
		Args: cobra.ExactArgs(1),
		RunE: runTest,
	}
	testCmd.Flags().BoolVar(&confirmFlag, "confirm", false, "Make the mark permanent")

	// Confirm command
	confirmCmd := &cobra.Command{
		Use:   "confirm",
		Short: "Make the running image permanent",
		RunE:  runConfirm,
	}

	// Erase command
	eraseCmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase a firmware slot",
		RunE:  runErase,
	}
	eraseCmd.Flags().IntVar(&slotFlag, "slot", 1, "Slot to erase")

	// Reset command
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reboot the device",
		RunE:  runReset,
	}

	// Echo command
	echoCmd := &cobra.Command{
		Use:   "echo <text>",
		Short: "Echo text through the device",
		Args:  cobra.ExactArgs(1),
		RunE:  runEcho,
	}

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcumgr %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(listCmd, uploadCmd, testCmd, confirmCmd, eraseCmd, resetCmd, echoCmd, versionCmd)

	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openSession opens the configured serial device.
func openSession() (*mcumgr.Session, error) {
	if deviceFlag == "" {
		return nil, fmt.Errorf("no device specified, use --device")
	}
	return mcumgr.Open(deviceFlag,
		mcumgr.WithBaudRate(baudFlag),
		mcumgr.WithTimeout(timeoutFlag),
		mcumgr.WithInitialTimeout(initialTimeoutFlag),
		mcumgr.WithRetries(retriesFlag),
		mcumgr.WithMTU(mtuFlag),
		mcumgr.WithLineLength(lineLengthFlag),
		mcumgr.WithChunkSize(chunkSizeFlag),
		mcumgr.WithLogger(logging.GetLogger()),
	)
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	slots, err := s.List()
	if err != nil {
		return err
	}

	printSlots(slots)
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	imagePath := args[0]

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image file: %w", err)
	}

	fmt.Printf("Image: %s (%d bytes)\n", imagePath, len(image))

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	bar := progressbar.NewOptions(len(image),
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionClearOnFinish(),
	)

	result, err := s.Upload(image,
		mcumgr.WithImage(imageFlag),
		mcumgr.WithProgress(func(off, total int) {
			bar.Set(off)
		}))
	if err != nil {
		return err
	}
	bar.Finish()

	fmt.Printf("\nUploaded %d bytes\n", result.Offset)
	if result.Verified {
		printSlots(result.Slots)
	} else {
		fmt.Println("Warning: could not query image state after the upload")
	}

	return nil
}

func runTest(cmd *cobra.Command, args []string) error {
	hash, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("invalid image hash: %w", err)
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	slots, err := s.Test(hash, confirmFlag)
	if err != nil {
		return err
	}

	printSlots(slots)
	return nil
}

func runConfirm(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	slots, err := s.Confirm()
	if err != nil {
		return err
	}

	printSlots(slots)
	return nil
}

func runErase(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Erasing slot %d...\n", slotFlag)
	if err := s.Erase(slotFlag); err != nil {
		return err
	}

	fmt.Println("Done!")
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Reset(); err != nil {
		return err
	}

	fmt.Println("Device is rebooting")
	return nil
}

func runEcho(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	reply, err := s.Echo(args[0])
	if err != nil {
		return err
	}

	fmt.Println(reply)
	return nil
}

func printSlots(slots []mcumgr.ImageSlot) {
	if len(slots) == 0 {
		fmt.Println("No images reported")
		return
	}

	fmt.Println("Images:")
	for _, s := range slots {
		fmt.Printf("  image=%d slot=%d\n", s.Image, s.Slot)
		fmt.Printf("    version: %s\n", s.Version)
		fmt.Printf("    hash:    %x\n", s.Hash)
		fmt.Printf("    flags:   %s\n", slotFlags(s))
	}
}

func slotFlags(s mcumgr.ImageSlot) string {
	var parts []string
	if s.Bootable {
		parts = append(parts, "bootable")
	}
	if s.Active {
		parts = append(parts, "active")
	}
	if s.Confirmed {
		parts = append(parts, "confirmed")
	}
	if s.Pending {
		parts = append(parts, "pending")
	}
	if s.Permanent {
		parts = append(parts, "permanent")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}
