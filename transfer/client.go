package transfer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Muraqwq/simple-tcp-file-transport/config"
	"github.com/Muraqwq/simple-tcp-file-transport/lib"
)

const (
	connectDeadline = 5 * time.Second
	confirmDeadline = 10 * time.Second
)

// RunClient connects to the server and serves the interactive command loop:
// upload <file>, download <file>, exit.
func RunClient(conf *config.Config, serverIP string, serverPort int) error {
	lib.InitPool(conf.PayloadPoolSize, conf.PreferredMSS, conf.PoolDebug, 0)

	port := lib.NewUDPPort(conf.TOS)
	conn := lib.NewConnection(port, lib.NewConnectionConfig(conf))
	defer port.Close()

	if err := conn.Connect(serverIP, serverPort); err != nil {
		return errors.Wrapf(err, "connecting to %s:%d", serverIP, serverPort)
	}

	deadline := time.Now().Add(connectDeadline)
	for conn.GetState() != lib.StateEstablished {
		if time.Now().After(deadline) {
			return errors.Errorf("connection to %s:%d timed out", serverIP, serverPort)
		}
		conn.Update()
		time.Sleep(10 * time.Millisecond)
	}
	fmt.Println("Connected! Type 'upload <filename>', 'download <filename>' or 'exit'")

	messenger := NewMessenger(conn)
	scanner := bufio.NewScanner(os.Stdin)

	for {
		conn.Update()
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "upload":
			if len(fields) < 2 {
				fmt.Println("usage: upload <filename>")
				continue
			}
			if err := UploadFile(messenger, fields[1]); err != nil {
				log.WithField("err", err).Error("upload failed")
			}
		case "download":
			if len(fields) < 2 {
				fmt.Println("usage: download <filename>")
				continue
			}
			if err := DownloadFile(messenger, fields[1]); err != nil {
				log.WithField("err", err).Error("download failed")
			}
		case "exit":
			fmt.Println("Closing connection...")
			conn.Close()
			closeDeadline := time.Now().Add(5 * time.Second)
			for conn.GetState() != lib.StateClosed && time.Now().Before(closeDeadline) {
				conn.Update()
				time.Sleep(10 * time.Millisecond)
			}
			return nil
		default:
			fmt.Println("Unknown command")
		}
	}
	return nil
}

// UploadFile streams a local file to the server and waits for the server's
// confirmation carrying the byte count it wrote.
func UploadFile(m *Messenger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	fileSize := info.Size()
	filename := filepath.Base(path)

	fmt.Printf("Uploading %s (%d bytes)...\n", path, fileSize)
	if err := m.Send(OpUploadReq, []byte(filename+"|"+strconv.FormatInt(fileSize, 10))); err != nil {
		return err
	}

	startTime := time.Now()
	readBuf := make([]byte, 1024)
	var totalBytes int64

	for {
		if time.Since(startTime) >= transferDeadline {
			fmt.Println()
			return errors.New("upload deadline exceeded")
		}

		n, err := f.Read(readBuf)
		if n > 0 {
			if err := m.Send(OpData, readBuf[:n]); err != nil {
				return err
			}
			m.conn.Update()
			totalBytes += int64(n)
			if totalBytes%(10*1024) == 0 {
				PrintProgress(totalBytes, fileSize)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reading upload source")
		}
	}
	PrintProgress(totalBytes, fileSize)
	fmt.Println()

	if err := m.Send(OpEnd, nil); err != nil {
		return err
	}

	// The transfer only counts once the server confirms what it wrote.
	fmt.Println("Waiting for server confirmation...")
	serverBytes := int64(-1)
	confirmed := false
	waitStart := time.Now()

	for !confirmed {
		if time.Since(waitStart) > confirmDeadline {
			recordBenchmark(filename, totalBytes, time.Since(startTime), "Timeout")
			return errors.New("confirmation timeout")
		}

		for !m.conn.IsSendComplete() {
			m.conn.Update()
			time.Sleep(time.Millisecond)
		}

		alive := m.Poll(func(op uint8, payload []byte) {
			switch op {
			case OpEnd:
				confirmed = true
				if parsed, err := strconv.ParseInt(string(payload), 10, 64); err == nil {
					serverBytes = parsed
				}
			case OpError:
				confirmed = true
				fmt.Printf("Server error: %s\n", payload)
			}
		})
		if !alive {
			break
		}
		time.Sleep(time.Millisecond)
	}

	duration := time.Since(startTime)
	speed := float64(totalBytes) / 1024.0 / duration.Seconds()
	fmt.Println("Upload finished.")
	fmt.Printf("  - Duration: %.2f s\n", duration.Seconds())
	fmt.Printf("  - Sent: %.1f KB\n", float64(totalBytes)/1024.0)
	fmt.Printf("  - Speed: %.1f KB/s\n", speed)

	result := "FAIL_SIZE"
	if serverBytes == totalBytes {
		result = "PASS_REMOTE"
		fmt.Println("  - Verification (Remote): PASS (Size Match)")
	} else {
		fmt.Printf("  - Verification (Remote): FAIL (Sent %d vs Recv %d)\n", totalBytes, serverBytes)
	}
	recordBenchmark(filename, totalBytes, duration, result)
	return nil
}

// DownloadFile requests a file from the server and stores it locally as
// downloaded_<name>.
func DownloadFile(m *Messenger, name string) error {
	fmt.Printf("Downloading %s...\n", name)
	if err := m.Send(OpDownloadReq, []byte(name)); err != nil {
		return err
	}

	target := "downloaded_" + filepath.Base(name)
	var (
		outFile       *os.File
		receiving     bool
		totalBytes    int64
		expectedBytes int64
		done          bool
		remoteErr     error
	)
	defer func() {
		if outFile != nil {
			outFile.Close()
		}
	}()

	startTime := time.Now()
	for !done {
		if time.Since(startTime) >= transferDeadline {
			return errors.New("download deadline exceeded")
		}

		alive := m.Poll(func(op uint8, payload []byte) {
			switch op {
			case OpFileInfo:
				if parsed, err := strconv.ParseInt(string(payload), 10, 64); err == nil {
					expectedBytes = parsed
				}
				fmt.Printf("File size: %d bytes\n", expectedBytes)
				f, err := os.Create(target)
				if err != nil {
					remoteErr = err
					done = true
					return
				}
				outFile = f
				receiving = true

			case OpData:
				if !receiving {
					// FILE_INFO missed; open the target on first data anyway.
					f, err := os.Create(target)
					if err != nil {
						remoteErr = err
						done = true
						return
					}
					outFile = f
					receiving = true
				}
				outFile.Write(payload)
				totalBytes += int64(len(payload))
				if expectedBytes > 0 && totalBytes%(10*1024) == 0 {
					PrintProgress(totalBytes, expectedBytes)
				}

			case OpEnd:
				total := expectedBytes
				if total <= 0 {
					total = totalBytes
				}
				PrintProgress(totalBytes, total)
				fmt.Println()
				fmt.Printf("Download complete! Saved to %s\n", target)
				done = true

			case OpError:
				remoteErr = errors.Errorf("server error: %s", payload)
				done = true
			}
		})
		if !alive {
			break
		}
		time.Sleep(time.Millisecond)
	}

	return remoteErr
}

// recordBenchmark appends one CSV line per upload to benchmark.log.
func recordBenchmark(filename string, bytes int64, duration time.Duration, result string) {
	f, err := os.OpenFile("benchmark.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.WithField("err", err).Warn("cannot write benchmark log")
		return
	}
	defer f.Close()

	speed := float64(bytes) / 1024.0 / duration.Seconds()
	fmt.Fprintf(f, "%s,%s,%d,%.3f,%.1f,%s\n",
		time.Now().Format("2006-01-02 15:04:05"), filename, bytes, duration.Seconds(), speed, result)
}
