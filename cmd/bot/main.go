package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/transport/ws"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:30000/v1/ws", "ws url")
		name     = flag.String("name", "bot", "player name")
		wanted   = flag.Int("range", 4, "wanted view range in blocks")
		duration = flag.Duration("duration", 10*time.Second, "how long to stay connected")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	send := func(pkt *protocol.Packet) {
		if err := conn.WriteMessage(websocket.BinaryMessage, ws.EncodeFrame(protocol.ChannelDefault, true, pkt.Bytes())); err != nil {
			logger.Fatalf("send %#x: %v", pkt.Command, err)
		}
	}

	send(protocol.InitRequest{
		MaxSerVer:   protocol.SerFmtVerHighest,
		MinProtoVer: protocol.ProtocolVersionMin,
		MaxProtoVer: protocol.ProtocolVersionMax,
		PlayerName:  *name,
	}.Encode())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	deadline := time.Now().Add(*duration)
	_ = conn.SetReadDeadline(deadline)

	counts := map[uint16]int{}
	var pos geom.V3f
	for {
		select {
		case <-stop:
			report(logger, counts)
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			report(logger, counts)
			return
		}
		_, _, payload, ok := ws.DecodeFrame(msg)
		if !ok {
			logger.Printf("bad frame (%d bytes)", len(msg))
			continue
		}
		pkt, err := protocol.Decode(payload)
		if err != nil {
			continue
		}
		counts[pkt.Command]++

		switch pkt.Command {
		case protocol.ToClientHello:
			send(protocol.Empty(protocol.ToServerInit2))
		case protocol.ToClientNodeDef:
			send(protocol.Empty(protocol.ToServerClientReady))
		case protocol.ToClientMovePlayer:
			pos = protocol.NewReader(pkt.Payload).V3F()
			send(protocol.PlayerPos{Position: pos, FOV: 1.2, WantedRange: uint8(*wanted)}.Encode())
		case protocol.ToClientBlockData:
			bp := protocol.NewReader(pkt.Payload).V3S16()
			send(protocol.BlockList(protocol.ToServerGotBlocks, []geom.V3s16{bp}))
		case protocol.ToClientAccessDenied:
			logger.Printf("access denied, code %d", pkt.Payload[0])
			report(logger, counts)
			return
		case protocol.ToClientChatMessage:
			r := protocol.NewReader(pkt.Payload)
			r.U8()
			r.U8()
			r.String16()
			logger.Printf("chat: %s", r.String16())
		}
	}
}

func report(logger *log.Logger, counts map[uint16]int) {
	logger.Printf("blocks=%d object_updates=%d chat=%d node_changes=%d",
		counts[protocol.ToClientBlockData],
		counts[protocol.ToClientActiveObjectRemoveAdd]+counts[protocol.ToClientActiveObjectMessages],
		counts[protocol.ToClientChatMessage],
		counts[protocol.ToClientAddNode]+counts[protocol.ToClientRemoveNode])
}
