package server

import (
	"fmt"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/transport"
)

const (
	playerNameMax = 20
	nameChars     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"
)

// processData decodes and dispatches one datagram. The caller holds envMu.
func (s *Server) processData(d transport.Datagram) {
	pkt, err := protocol.Decode(d.Data)
	if err != nil {
		s.metrics.PacketDropped("malformed")
		s.log.Verbosef("server: peer %d: %v", d.Peer, err)
		return
	}
	cmd, ok := protocol.LookupServerCommand(pkt.Command)
	if !ok {
		s.metrics.PacketDropped("unknown")
		s.log.Verbosef("server: peer %d: ignoring unknown command 0x%02x", d.Peer, pkt.Command)
		return
	}
	c, ok := s.clients.Get(d.Peer)
	if !ok {
		s.metrics.PacketDropped("no_session")
		s.log.Verbosef("server: %s from unknown peer %d", cmd.Name, d.Peer)
		return
	}
	if err := c.Allow(cmd.MinState); err != nil {
		if cmd.Silent {
			s.metrics.PacketDropped("state")
			return
		}
		s.violation(c, cmd.Name, err)
		return
	}
	s.metrics.PacketReceived(cmd.Name)

	switch pkt.Command {
	case protocol.ToServerInit:
		err = s.handleInit(c, pkt.Payload)
	case protocol.ToServerInit2:
		err = s.handleInit2(c)
	case protocol.ToServerClientReady:
		err = s.handleClientReady(c)
	case protocol.ToServerPlayerPos:
		err = s.handlePlayerPos(c, pkt.Payload)
	case protocol.ToServerGotBlocks:
		err = s.handleGotBlocks(pkt.Payload)
	case protocol.ToServerDeletedBlocks:
		err = s.handleDeletedBlocks(c, pkt.Payload)
	case protocol.ToServerChatMessage:
		err = s.handleChatMessage(c, pkt.Payload)
	case protocol.ToServerRemovedSounds:
		err = s.handleRemovedSounds(c, pkt.Payload)
	}
	if err != nil {
		s.violation(c, cmd.Name, err)
	}
}

// violation drops the offending packet and denies the client once it
// has sent too many bad ones.
func (s *Server) violation(c *session.Client, cmd string, err error) {
	s.metrics.ProtocolViolation()
	s.metrics.PacketDropped("violation")
	n := c.AddViolation()
	s.log.Infof("server: peer %d: bad %s: %v", c.Peer, cmd, err)
	if n >= s.cfg.MaxProtocolViolations {
		s.DenyAccess(c.Peer, protocol.DenyUnexpectedData, "", false)
	}
}

func (s *Server) handleInit(c *session.Client, payload []byte) error {
	if st := c.State(); st != session.Created {
		return fmt.Errorf("%w: INIT in state %s", session.ErrRegression, st)
	}
	req, err := protocol.ParseInit(payload)
	if err != nil {
		return err
	}

	if _, banned := s.banned[hostOf(c.Address)]; banned {
		s.DenyAccess(c.Peer, protocol.DenyCustomString, "Your IP is banned. Banned name was "+req.PlayerName, false)
		return nil
	}

	serVer := req.MaxSerVer
	if serVer > protocol.SerFmtVerHighest {
		serVer = protocol.SerFmtVerHighest
	}
	if serVer < protocol.SerFmtVerLowest ||
		req.MaxProtoVer < protocol.ProtocolVersionMin ||
		req.MinProtoVer > protocol.ProtocolVersionMax {
		s.log.Actionf("server: peer %d: unsupported versions ser=%d proto=%d..%d",
			c.Peer, req.MaxSerVer, req.MinProtoVer, req.MaxProtoVer)
		s.DenyAccess(c.Peer, protocol.DenyWrongVersion, "", false)
		return nil
	}
	protoVer := req.MaxProtoVer
	if protoVer > protocol.ProtocolVersionMax {
		protoVer = protocol.ProtocolVersionMax
	}

	name := req.PlayerName
	switch {
	case name == "" || len(name) > playerNameMax || strings.EqualFold(name, "singleplayer"):
		s.DenyAccess(c.Peer, protocol.DenyWrongName, "", false)
		return nil
	case strings.Trim(name, nameChars) != "":
		s.DenyAccess(c.Peer, protocol.DenyWrongCharsInName, "", false)
		return nil
	}
	if _, dup := s.clients.ByName(name, session.Created); dup {
		s.DenyAccess(c.Peer, protocol.DenyAlreadyConnected, "", false)
		return nil
	}
	if s.clients.CountAtLeast(session.InitSent) >= s.cfg.MaxUsers {
		s.DenyAccess(c.Peer, protocol.DenyTooManyUsers, "", false)
		return nil
	}
	if reason := s.env.Script.OnPrejoinPlayer(name, c.Address); reason != "" {
		s.DenyAccess(c.Peer, protocol.DenyCustomString, reason, false)
		return nil
	}

	if err := c.SetVersions(serVer, protoVer); err != nil {
		return err
	}
	c.Name = name
	if err := c.Transition(session.InitSent); err != nil {
		return err
	}
	s.Send(c.Peer, protocol.Hello(serVer, protoVer, protocol.AuthMechNone, name))
	s.log.Verbosef("server: peer %d is %q, ser=%d proto=%d", c.Peer, name, serVer, protoVer)
	return nil
}

func (s *Server) handleInit2(c *session.Client) error {
	if st := c.State(); st != session.InitSent {
		return fmt.Errorf("%w: INIT2 in state %s", session.ErrRegression, st)
	}
	s.Send(c.Peer, protocol.Definitions(protocol.ToClientItemDef, s.catalogs.ItemDefPayload()))
	s.Send(c.Peer, protocol.Definitions(protocol.ToClientNodeDef, s.catalogs.NodeDefPayload()))
	if err := c.Transition(session.DefinitionsSent); err != nil {
		return err
	}
	s.Send(c.Peer, protocol.TimeOfDay(s.env.TimeOfDay(), s.env.TimeSpeed()))
	return nil
}

func (s *Server) handleClientReady(c *session.Client) error {
	if st := c.State(); st != session.DefinitionsSent {
		return fmt.Errorf("%w: CLIENT_READY in state %s", session.ErrRegression, st)
	}
	p := s.env.AddPlayer(c.Peer, c.Name, SpawnPos)
	c.PlayerObject = p.ObjectID
	c.CameraPos = p.Pos
	if err := c.Transition(session.Active); err != nil {
		return err
	}

	s.Send(c.Peer, protocol.MovePlayer(p.Pos, p.Pitch, p.Yaw))
	s.Send(c.Peer, protocol.UpdatePlayerList(protocol.PlayerListInit, s.clients.Names(session.Active)))
	joined := protocol.UpdatePlayerList(protocol.PlayerListAdd, []string{c.Name})
	for _, other := range s.clients.Snapshot(session.Active) {
		if other.Peer != c.Peer {
			s.Send(other.Peer, joined)
		}
	}

	s.env.Script.OnJoinPlayer(c.Name)
	s.log.Actionf("%s joins game", c.Name)
	return nil
}

func (s *Server) handlePlayerPos(c *session.Client, payload []byte) error {
	pp, err := protocol.ParsePlayerPos(payload)
	if err != nil {
		return err
	}
	c.CameraPos = pp.Position
	c.Pitch, c.Yaw = pp.Pitch, pp.Yaw
	c.SetWantedRange(int(pp.WantedRange), s.cfg.MaxBlockSendDistance)
	s.env.MovePlayer(c.Peer, pp.Position, pp.Pitch, pp.Yaw)
	return nil
}

func (s *Server) handleGotBlocks(payload []byte) error {
	blocks, err := protocol.ParseBlockList(payload)
	if err != nil {
		return err
	}
	s.metrics.BlocksAcknowledged(len(blocks))
	return nil
}

func (s *Server) handleDeletedBlocks(c *session.Client, payload []byte) error {
	blocks, err := protocol.ParseBlockList(payload)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		c.ForgetBlock(b)
	}
	return nil
}

func (s *Server) handleChatMessage(c *session.Client, payload []byte) error {
	text, err := protocol.ParseChatMessage(payload)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) > s.cfg.ChatMessageMaxSize {
		s.sendChat(c.Peer, "Your message exceed the maximum chat message limit set on the server. "+
			"It was refused. Send a shorter message")
		return nil
	}
	if s.env.Script.OnChatMessage(c.Name, text) {
		return nil
	}
	line := "<" + c.Name + "> " + text
	s.log.Actionf("CHAT: %s", line)
	pkt := protocol.ChatMessage(protocol.ChatMessageNormal, c.Name, line, time.Now().Unix())
	for _, other := range s.clients.Snapshot(session.Active) {
		s.Send(other.Peer, pkt)
	}
	return nil
}

func (s *Server) handleRemovedSounds(c *session.Client, payload []byte) error {
	ids, err := protocol.ParseRemovedSounds(payload)
	if err != nil {
		return err
	}
	s.sounds.ClientRemovedSounds(c.Peer, ids)
	return nil
}

// hostOf strips the port from a transport address.
func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
