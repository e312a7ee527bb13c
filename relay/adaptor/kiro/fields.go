package kiro

import "github.com/proxycast/gateway/relay/adaptor/credfile"

func credfileRegion(path string) (string, error) {
	if path == "" {
		return "us-east-1", nil
	}
	r, err := credfile.Get(path, "region")
	if err != nil {
		return "us-east-1", err
	}
	if r == "" {
		return "us-east-1", nil
	}
	return r, nil
}

func profileArn(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return credfile.Get(path, "profileArn")
}
