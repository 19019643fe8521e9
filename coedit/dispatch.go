package coedit

import (
	"fmt"

	"github.com/golang/glog"
)

const DefaultPacketReadLimit = 32

type MessageHandler interface {
	HandleHandshake(sender PeerId, handshake *Handshake)
	HandleSetUserData(sender PeerId, setUserData *SetUserData)
	HandleSyncUserData(sender PeerId, syncUserData *SyncUserData)
	HandleSyncVar(sender PeerId, syncVar *SyncVar)
}

// receives `call_func` messages addressed to its path
type CallTarget interface {
	ApplyCall(sender PeerId, call RemoteCall) error
}

// Drains a bounded number of packets per tick, decodes them and routes by kind.
// A bad packet is logged and dropped; it never stops the drain.
type PacketDispatcher struct {
	transport Transport
	handler   MessageHandler
	readLimit int
	log       LogFunction

	callTargets map[string]CallTarget
}

func NewPacketDispatcher(transport Transport, handler MessageHandler, readLimit int) *PacketDispatcher {
	return &PacketDispatcher{
		transport:   transport,
		handler:     handler,
		readLimit:   readLimit,
		log:         LogFn(LogLevelDebug, "[d]"),
		callTargets: map[string]CallTarget{},
	}
}

func (self *PacketDispatcher) AddCallTarget(path string, target CallTarget) {
	self.callTargets[path] = target
}

// processes at most the read limit of packets, in arrival order.
// Returns the number of packets taken from the transport.
func (self *PacketDispatcher) Drain() int {
	count := 0
	for count < self.readLimit {
		sender, packet, ok := self.transport.ReceivePacket()
		if !ok {
			break
		}
		count += 1
		self.dispatch(sender, packet)
	}
	return count
}

func (self *PacketDispatcher) dispatch(sender PeerId, packet []byte) {
	message, err := DecodeMessage(packet)
	if err != nil {
		glog.Warningf("[d]drop %s<- %d bytes = %s\n", sender, len(packet), err)
		return
	}
	messageName := message.MessageName()
	if callFunc, ok := message.(*CallFunc); ok {
		messageName = callFunc.FunctionName
	}
	self.log("%s<- %s", sender, messageName)
	err = RecoverInbound(sender, messageName, func() error {
		switch v := message.(type) {
		case *Handshake:
			self.handler.HandleHandshake(sender, v)
		case *SetUserData:
			self.handler.HandleSetUserData(sender, v)
		case *SyncUserData:
			self.handler.HandleSyncUserData(sender, v)
		case *SyncVar:
			self.handler.HandleSyncVar(sender, v)
		case *CallFunc:
			return self.dispatchCall(sender, v)
		}
		return nil
	})
	if err != nil {
		glog.Warningf("[d]abort %s %s<- = %s\n", messageName, sender, err)
	}
}

func (self *PacketDispatcher) dispatchCall(sender PeerId, callFunc *CallFunc) error {
	target, ok := self.callTargets[callFunc.Path]
	if !ok {
		return fmt.Errorf("No call target at path %q", callFunc.Path)
	}
	call, err := FromCallFunc(callFunc)
	if err != nil {
		return err
	}
	return target.ApplyCall(sender, call)
}
