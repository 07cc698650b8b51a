package main

import (
	"context"
	"flag"
	"time"

	"github.com/Berkay2002/rsa-messenger/internal/cryptographic/keywrap"
	"github.com/Berkay2002/rsa-messenger/internal/cryptographic/rsakit"
	"github.com/Berkay2002/rsa-messenger/internal/service/client"
	"github.com/Berkay2002/rsa-messenger/internal/service/directory"
	"github.com/Berkay2002/rsa-messenger/internal/utils/log"

	"go.uber.org/zap"
)

func main() {
	serverHost := flag.String("server", "localhost:5000", "directory/relay host")
	keyBits := flag.Int("bits", rsakit.DefaultBits, "RSA key length for new accounts")
	timeout := flag.Duration("timeout", 10*time.Second, "directory request timeout")
	legacyWrap := flag.Bool("legacy-keywrap", false, "seal private keys without a KDF (compatibility with old blobs)")
	perMember := flag.Bool("per-member-groups", false, "encrypt group messages once per member")
	flag.Parse()

	wrapMode := keywrap.ModePBKDF2
	if *legacyWrap {
		wrapMode = keywrap.ModeLegacy
	}

	groupPolicy := client.GroupPolicySenderKey
	if *perMember {
		groupPolicy = client.GroupPolicyPerMember
	}

	dir := directory.NewClient(*serverHost, *timeout)
	app := client.NewApp(client.Config{
		ServerHost:  *serverHost,
		KeyBits:     *keyBits,
		WrapMode:    wrapMode,
		GroupPolicy: groupPolicy,
	}, dir)

	if err := app.Run(context.Background()); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
	app.Stop()
}
