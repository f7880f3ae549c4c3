package transfer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Muraqwq/simple-tcp-file-transport/config"
	"github.com/Muraqwq/simple-tcp-file-transport/lib"
)

// transferDeadline caps one upload or download on the wall clock. The engine
// itself has no per-call timeouts; deadlines live up here.
const transferDeadline = 180 * time.Second

// serverSession is the per-client application state, reset between clients.
type serverSession struct {
	outFile       *os.File
	receivingFile bool
	fileName      string
	receivedBytes int64
	expectedBytes int64
}

func (s *serverSession) reset() {
	if s.outFile != nil {
		s.outFile.Close()
		s.outFile = nil
	}
	s.receivingFile = false
	s.fileName = ""
	s.receivedBytes = 0
	s.expectedBytes = 0
}

// RunServer serves upload and download requests on conf.ServerPort until the
// process is stopped. One client at a time; the connection is reset back to
// listening when a client disconnects.
func RunServer(conf *config.Config) error {
	lib.InitPool(conf.PayloadPoolSize, conf.PreferredMSS, conf.PoolDebug, 0)

	port := lib.NewUDPPort(conf.TOS)
	conn := lib.NewConnection(port, lib.NewConnectionConfig(conf))
	if err := conn.Bind(conf.ServerPort); err != nil {
		return err
	}
	defer port.Close()

	log.WithField("port", conf.ServerPort).Info("server listening")

	messenger := NewMessenger(conn)
	session := &serverSession{}

	for {
		if conn.GetState() == lib.StateListen {
			conn.Update()
			time.Sleep(10 * time.Millisecond)
			continue
		}

		alive := messenger.Poll(func(op uint8, payload []byte) {
			handleServerMessage(messenger, session, op, payload)
		})

		if !alive {
			log.Info("client disconnected, resetting connection")
			finishShutdown(conn)
			session.reset()
			messenger.rxBuf = nil
			conn.Reset()
			continue
		}

		time.Sleep(time.Millisecond)
	}
}

// finishShutdown answers the peer's close and drives the engine until the
// teardown completes or gives up after a short deadline.
func finishShutdown(conn *lib.Connection) {
	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for conn.GetState() != lib.StateClosed && time.Now().Before(deadline) {
		conn.Update()
		time.Sleep(time.Millisecond)
	}
}

func handleServerMessage(m *Messenger, session *serverSession, op uint8, payload []byte) {
	switch op {
	case OpUploadReq:
		name, size := parseUploadRequest(string(payload))
		session.reset()
		session.fileName = "received_" + filepath.Base(name)
		session.expectedBytes = size

		f, err := os.Create(session.fileName)
		if err != nil {
			log.WithField("err", err).Error("cannot create upload target")
			m.Send(OpError, []byte("cannot create file"))
			return
		}
		session.outFile = f
		session.receivingFile = true
		log.WithFields(log.Fields{
			"file": session.fileName,
			"size": session.expectedBytes,
		}).Info("start receiving file")

	case OpDownloadReq:
		serveDownload(m, filepath.Base(string(payload)))

	case OpData:
		if session.receivingFile && session.outFile != nil {
			session.outFile.Write(payload)
			session.receivedBytes += int64(len(payload))
			if session.expectedBytes > 0 && session.receivedBytes%(10*1024) == 0 {
				PrintProgress(session.receivedBytes, session.expectedBytes)
			}
		}

	case OpEnd:
		if !session.receivingFile {
			return
		}
		total := session.expectedBytes
		if total <= 0 {
			total = session.receivedBytes
		}
		PrintProgress(session.receivedBytes, total)
		fmt.Println()
		session.outFile.Close()
		session.outFile = nil
		session.receivingFile = false
		log.WithFields(log.Fields{
			"file":  session.fileName,
			"bytes": session.receivedBytes,
		}).Info("file received")
		// Confirm with the byte count so the client can verify the size.
		m.Send(OpEnd, []byte(strconv.FormatInt(session.receivedBytes, 10)))
	}
}

// parseUploadRequest splits the "filename|filesize" request; requests from
// older clients carry the name alone.
func parseUploadRequest(payload string) (string, int64) {
	name := payload
	var size int64
	if sep := strings.IndexByte(payload, '|'); sep >= 0 {
		name = payload[:sep]
		if parsed, err := strconv.ParseInt(payload[sep+1:], 10, 64); err == nil {
			size = parsed
		}
	}
	return name, size
}

func serveDownload(m *Messenger, name string) {
	log.WithField("file", name).Info("start sending file")

	f, err := os.Open(name)
	if err != nil {
		m.Send(OpError, []byte("File not found"))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		m.Send(OpError, []byte("File not found"))
		return
	}
	fileSize := info.Size()

	if err := m.Send(OpFileInfo, []byte(strconv.FormatInt(fileSize, 10))); err != nil {
		log.WithField("err", err).Warn("download aborted")
		return
	}

	startTime := time.Now()
	readBuf := make([]byte, 1024)
	var totalBytes int64

	for {
		if time.Since(startTime) >= transferDeadline {
			fmt.Println()
			log.Warn("download deadline exceeded")
			break
		}

		n, err := f.Read(readBuf)
		if n > 0 {
			if err := m.Send(OpData, readBuf[:n]); err != nil {
				log.WithField("err", err).Warn("download aborted")
				return
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
			log.WithField("err", err).Error("read error during download")
			break
		}
	}
	PrintProgress(totalBytes, fileSize)
	fmt.Println()

	m.Send(OpEnd, nil)
}
