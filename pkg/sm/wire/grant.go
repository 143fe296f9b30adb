package wire

import (
	"fmt"

	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
)

// grantSigDomain is the ASCII prefix the WSM signature covers, preventing a
// grant signature from being replayed into any other protocol context.
const grantSigDomain = "BKGrant"

const sigFieldLen = 64

// EncodeGrantRequestBody lays out the bytes the app and hardware factors
// each sign independently: Version(1) || Action(1) || DeviceId(variable) ||
// Challenge(variable). Both signers must derive
// an identical body from the same fields or verification fails closed.
func EncodeGrantRequestBody(version uint8, action smentities.GrantAction, deviceID, challenge []byte) ([]byte, error) {
	if len(deviceID) > smentities.MaxDeviceIDLen {
		return nil, fmt.Errorf("wire: device id of %d bytes exceeds protocol cap of %d", len(deviceID), smentities.MaxDeviceIDLen)
	}
	if len(challenge) > smentities.MaxChallengeLen {
		return nil, fmt.Errorf("wire: challenge of %d bytes exceeds protocol cap of %d", len(challenge), smentities.MaxChallengeLen)
	}

	buf := make([]byte, 0, 2+len(deviceID)+len(challenge))
	buf = append(buf, version, byte(action))
	buf = append(buf, deviceID...)
	buf = append(buf, challenge...)
	return buf, nil
}

// EncodeGrantWSMSigningPayload lays out what the SM itself signs: the
// "BKGrant" domain tag, the version byte, the request body, and the app
// signature bytes.
func EncodeGrantWSMSigningPayload(version uint8, requestBody, appSignature []byte) []byte {
	buf := make([]byte, 0, len(grantSigDomain)+1+len(requestBody)+len(appSignature))
	buf = append(buf, grantSigDomain...)
	buf = append(buf, version)
	buf = append(buf, requestBody...)
	buf = append(buf, appSignature...)
	return buf
}

// EncodeGrant serializes a signed Grant to the fixed wire layout:
// version:u8 || action:u8 || device_id_len:u8 || device_id[..] ||
// challenge_len:u8 || challenge[..] || app_sig:64 || wsm_sig:64.
func EncodeGrant(g smentities.Grant) ([]byte, error) {
	if len(g.DeviceID) > smentities.MaxDeviceIDLen {
		return nil, fmt.Errorf("wire: device id of %d bytes exceeds protocol cap", len(g.DeviceID))
	}
	if len(g.Challenge) > smentities.MaxChallengeLen {
		return nil, fmt.Errorf("wire: challenge of %d bytes exceeds protocol cap", len(g.Challenge))
	}
	if len(g.AppSignature) != sigFieldLen || len(g.WSMSignature) != sigFieldLen {
		return nil, fmt.Errorf("wire: signature fields must each be %d bytes", sigFieldLen)
	}

	buf := make([]byte, 0, 2+1+len(g.DeviceID)+1+len(g.Challenge)+2*sigFieldLen)
	buf = append(buf, g.Version, byte(g.Action))
	buf = append(buf, byte(len(g.DeviceID)))
	buf = append(buf, g.DeviceID...)
	buf = append(buf, byte(len(g.Challenge)))
	buf = append(buf, g.Challenge...)
	buf = append(buf, g.AppSignature...)
	buf = append(buf, g.WSMSignature...)
	return buf, nil
}

// DecodeGrant parses a wire-format grant produced by EncodeGrant.
func DecodeGrant(b []byte) (smentities.Grant, error) {
	if len(b) < 2 {
		return smentities.Grant{}, fmt.Errorf("wire: grant too short")
	}
	g := smentities.Grant{Version: b[0], Action: smentities.GrantAction(b[1])}
	rest := b[2:]

	if len(rest) < 1 {
		return smentities.Grant{}, fmt.Errorf("wire: grant truncated before device_id_len")
	}
	deviceLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < deviceLen {
		return smentities.Grant{}, fmt.Errorf("wire: grant truncated in device_id")
	}
	g.DeviceID, rest = rest[:deviceLen], rest[deviceLen:]

	if len(rest) < 1 {
		return smentities.Grant{}, fmt.Errorf("wire: grant truncated before challenge_len")
	}
	challengeLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < challengeLen {
		return smentities.Grant{}, fmt.Errorf("wire: grant truncated in challenge")
	}
	g.Challenge, rest = rest[:challengeLen], rest[challengeLen:]

	if len(rest) != 2*sigFieldLen {
		return smentities.Grant{}, fmt.Errorf("wire: grant has %d trailing bytes, want %d", len(rest), 2*sigFieldLen)
	}
	g.AppSignature = rest[:sigFieldLen]
	g.WSMSignature = rest[sigFieldLen:]
	return g, nil
}
