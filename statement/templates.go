package statement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/candinet/account-recovery-backend/interfaces"
)

// Statement templates for the custodial guardian actions. The rendered
// text is what the account owners sign; the authority matches it against
// the action it is asked to authorize, so wording changes are breaking.

// RegisterChannelStatement authorizes binding one channel target to an
// account.
func RegisterChannelStatement(channel interfaces.Channel, target string, account common.Address) string {
	return fmt.Sprintf("Register %s %s as a recovery channel for account %s.", channel, target, account.Hex())
}

// DeleteRegistrationStatement authorizes removing a registration.
func DeleteRegistrationStatement(registrationID string, account common.Address) string {
	return fmt.Sprintf("Delete recovery channel registration %s for account %s.", registrationID, account.Hex())
}

// ListRegistrationsStatement authorizes reading the registration list,
// which reveals channel targets.
func ListRegistrationsStatement(account common.Address) string {
	return fmt.Sprintf("List recovery channel registrations for account %s.", account.Hex())
}
