package zookeeper

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"deckcap/registry"

	"github.com/samuel/go-zookeeper/zk"
)

const DefaultSeparator = "_"

func encode(l *registry.Lease) ([]byte, error) {
	return json.Marshal(l)
}

func decode(ds []byte) (*registry.Lease, error) {
	var l *registry.Lease

	return l, json.Unmarshal(ds, &l)
}

func createPath(p string, data []byte, flags int32, client *zk.Conn) error {
	exists, _, err := client.Exists(p)
	if err != nil {
		return fmt.Errorf("fail to find node exist %w", err)
	}

	if exists {
		return nil
	}

	name := "/"

	parts := strings.Split(p, "/")

	for _, v := range parts[1 : len(parts)-1] {
		name += v
		e, _, _ := client.Exists(name)

		if !e {
			_, err = client.Create(name, []byte{}, int32(0), zk.WorldACL(zk.PermAll))
			if err != nil {
				return fmt.Errorf("failed to create node %w", err)
			}
		}

		name += "/"
	}

	_, err = client.Create(p, data, flags, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("createPath err = %w", err)
	}

	return nil
}

// nodePath flattens the lease key into one znode under the project root.
func nodePath(domain string, l *registry.Lease) (string, error) {
	key, err := l.Key(strings.ReplaceAll(domain, "/", "-"), DefaultSeparator)
	if err != nil {
		return "", err
	}

	return path.Join(DefaultProjectName, strings.ReplaceAll(key, "/", "-")), nil
}
