// sftt is the file-transfer endpoint: run one instance with -mode server and
// point -mode client instances at it. The client offers an interactive
// prompt with upload, download and exit commands.
//
// Usage:
//
//	sftt -mode server [-config config.yaml] [-port 8080]
//	sftt -mode client [-config config.yaml] [-serveraddr 127.0.0.1:8080]
package main

import (
	"flag"
	"net"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/Muraqwq/simple-tcp-file-transport/config"
	"github.com/Muraqwq/simple-tcp-file-transport/transfer"
)

var (
	mode          string
	configPath    string
	serverAddrStr string
	portOverride  int
)

func init() {
	flag.StringVar(&mode, "mode", "client", "run as 'server' or 'client'")
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.StringVar(&serverAddrStr, "serveraddr", "", "server address (IP:Port), client mode only")
	flag.IntVar(&portOverride, "port", 0, "listen port override, server mode only")
	flag.Parse()
}

func main() {
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalln("Configuration file error:", err)
	}
	if conf.Debug {
		log.SetLevel(log.DebugLevel)
	}

	switch mode {
	case "server":
		if portOverride != 0 {
			conf.ServerPort = portOverride
		}
		if err := transfer.RunServer(conf); err != nil {
			log.Fatalln("Server error:", err)
		}

	case "client":
		serverIP, serverPort := conf.ServerIP, conf.ServerPort
		if serverAddrStr != "" {
			host, portStr, err := net.SplitHostPort(serverAddrStr)
			if err != nil {
				log.Fatalln("Bad server address:", err)
			}
			serverIP = host
			if serverPort, err = strconv.Atoi(portStr); err != nil {
				log.Fatalln("Bad server port:", err)
			}
		}
		if err := transfer.RunClient(conf, serverIP, serverPort); err != nil {
			log.Fatalln("Client error:", err)
		}

	default:
		log.Fatalf("Invalid mode %q. Use 'server' or 'client'.", mode)
	}
}
