package planner

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/Aman-CERP/obplan/internal/topology"
)

const (
	lowers  = "abcdefghijklmnopqrstuvwxyz"
	uppers  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits  = "0123456789"
	symbols = "~^*{}[]_-+"
)

// credential is one generated secret and every place it must be written.
type credential struct {
	owners []credentialKey
}

type credentialKey struct {
	component topology.Component
	key       string
}

// credentialsFor lists the secrets a deployment needs. Keys sharing one
// credential must hold the same value.
func credentialsFor(d *topology.Deployment) []credential {
	if !d.Has(topology.OceanBase) {
		return nil
	}
	creds := []credential{{owners: []credentialKey{{topology.OceanBase, topology.KeyRootPassword}}}}
	if d.Has(topology.OBProxy) {
		creds = append(creds,
			credential{owners: []credentialKey{
				{topology.OceanBase, topology.KeyProxyroPassword},
				{topology.OBProxy, topology.KeyObserverSysPassword},
			}},
			credential{owners: []credentialKey{{topology.OBProxy, topology.KeyObproxySysPassword}}},
		)
	}
	if d.Has(topology.OBAgent) {
		creds = append(creds, credential{owners: []credentialKey{
			{topology.OceanBase, topology.KeyAgentMonitorPassword},
			{topology.OBAgent, topology.KeyMonitorPassword},
		}})
	}
	if d.Has(topology.OCPExpress) {
		creds = append(creds, credential{owners: []credentialKey{{topology.OCPExpress, topology.KeyOCPMetaPassword}}})
	}
	return creds
}

// GenerateCredentials creates the passwords the operator did not declare,
// as global values per component. A credential shared between components
// reuses whichever side the operator declared.
func GenerateCredentials(d *topology.Deployment, r io.Reader, length int) (map[topology.Component]topology.Delta, error) {
	out := map[topology.Component]topology.Delta{}
	for _, c := range credentialsFor(d) {
		var value any
		var missing []credentialKey
		for _, o := range c.owners {
			if v, ok := d.Group(o.component).Global[o.key]; ok {
				if value == nil {
					value = v
				}
				continue
			}
			missing = append(missing, o)
		}
		if len(missing) == 0 {
			continue
		}
		if value == nil {
			pw, err := Password(r, length)
			if err != nil {
				return nil, err
			}
			value = pw
		}
		for _, o := range missing {
			if out[o.component] == nil {
				out[o.component] = topology.Delta{}
			}
			out[o.component][o.key] = value
		}
	}
	return out, nil
}

// Password returns a random password of length characters drawing from r.
// It holds at least two lowercase letters, two uppercase letters, two
// digits and two symbols.
func Password(r io.Reader, length int) (string, error) {
	classes := []string{lowers, uppers, digits, symbols}
	if length < 2*len(classes) {
		return "", fmt.Errorf("password length %d is below %d", length, 2*len(classes))
	}
	all := lowers + uppers + digits + symbols
	buf := make([]byte, 0, length)
	for _, class := range classes {
		for range 2 {
			c, err := pick(r, class)
			if err != nil {
				return "", err
			}
			buf = append(buf, c)
		}
	}
	for len(buf) < length {
		c, err := pick(r, all)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for i := len(buf) - 1; i > 0; i-- {
		j, err := randInt(r, i+1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

func pick(r io.Reader, set string) (byte, error) {
	i, err := randInt(r, len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randInt(r io.Reader, n int) (int, error) {
	v, err := rand.Int(r, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("generate password: %w", err)
	}
	return int(v.Int64()), nil
}
