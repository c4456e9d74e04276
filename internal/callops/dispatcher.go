package callops

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/origen-labs/voicebridge/internal/agent"
)

// Dispatcher translates model tool calls into pending-operation mutations
// and produces the spoken acknowledgment text sent back to the model. It
// never returns an error to the caller-facing path.
type Dispatcher struct {
	store   *Store
	profile agent.Profile
}

func NewDispatcher(store *Store, profile agent.Profile) *Dispatcher {
	return &Dispatcher{store: store, profile: profile}
}

type functionArgs struct {
	Reason     string `json:"reason"`
	Department string `json:"department"`
}

// HandleFunctionCall processes one tool invocation and returns the text the
// model should speak.
func (d *Dispatcher) HandleFunctionCall(name, argsJSON, callControlID string) string {
	var args functionArgs
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			log.Printf("callops: bad arguments for %s on %s: %v", name, callControlID, err)
			return "I'm sorry, there was an error processing your request."
		}
	}

	switch name {
	case "end_call":
		return d.handleEndCall(args, callControlID)
	case "transfer_call":
		return d.handleTransferCall(args, callControlID)
	default:
		log.Printf("callops: unknown function %q on %s", name, callControlID)
		return "I'm sorry, I couldn't process that request."
	}
}

func (d *Dispatcher) handleEndCall(args functionArgs, callControlID string) string {
	reason := args.Reason
	if reason == "" {
		reason = "conversation_complete"
	}

	if err := d.store.RequestHangup(callControlID, reason); err != nil {
		switch {
		case errors.Is(err, ErrTransferPending):
			log.Printf("callops: ignoring end_call for %s, transfer already pending", callControlID)
			return "Transfer is already in progress."
		default:
			log.Printf("callops: ignoring duplicate end_call for %s", callControlID)
			return "Call is already ending."
		}
	}

	log.Printf("callops: marked %s for hangup, reason %s", callControlID, reason)

	switch reason {
	case "caller_request":
		return "Thank you for calling! Have a wonderful day!"
	case "escalation_needed":
		return "I'll connect you with someone who can better assist you. Thank you for your patience!"
	default:
		return "Thank you so much for calling! Have a great day!"
	}
}

func (d *Dispatcher) handleTransferCall(args functionArgs, callControlID string) string {
	reason := args.Reason
	if reason == "" {
		reason = "Customer requested transfer"
	}

	dept, ok := d.profile.Department(args.Department)
	if !ok || dept.SIPURI == "" {
		available := strings.Join(d.profile.DepartmentNames(), ", ")
		log.Printf("callops: no configuration for department %q on %s", args.Department, callControlID)
		return fmt.Sprintf("I'm sorry, I couldn't find the %s department. Available departments are: %s. "+
			"Let me connect you with our main support team instead.", args.Department, available)
	}

	err := d.store.RequestTransfer(callControlID, PendingOperation{
		Department:  dept.Name,
		Destination: dept.SIPURI,
		SIPHeaders:  dept.Headers,
		Reason:      reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrHangupPending):
			log.Printf("callops: ignoring transfer_call for %s, hangup already pending", callControlID)
			return "Call is already ending."
		case errors.Is(err, ErrDuplicateTransfer):
			log.Printf("callops: ignoring duplicate transfer_call for %s to %s", callControlID, dept.Name)
			return "Transfer is already in progress."
		default:
			log.Printf("callops: transfer_call failed for %s: %v", callControlID, err)
			return "I'm sorry, there was an error processing your request."
		}
	}

	log.Printf("callops: marked %s for transfer to %s", callControlID, dept.Name)
	return fmt.Sprintf("Perfect! I'm transferring your call to our %s department now. "+
		"Please hold on for just a moment while I connect you.", dept.Name)
}
