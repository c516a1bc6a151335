// gatehouse-keygen generates the HMAC signing secrets the gatehouse
// service requires. Run once per environment and place the output in the
// service's environment.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"

	"github.com/sirupsen/logrus"
)

func main() {
	bytes := flag.Int("bytes", 32, "secret length in bytes")
	quiet := flag.Bool("quiet", false, "print only the export lines")
	flag.Parse()

	log := logrus.New()
	if *bytes < 32 {
		log.Fatalf("secrets shorter than 32 bytes are too weak for HS256")
	}

	access, err := generateSecret(*bytes)
	if err != nil {
		log.Fatalf("generate access secret: %v", err)
	}
	renewal, err := generateSecret(*bytes)
	if err != nil {
		log.Fatalf("generate renewal secret: %v", err)
	}

	if !*quiet {
		log.WithField("bytes", *bytes).Info("generated signing secrets")
	}
	fmt.Printf("export GATEHOUSE_ACCESS_SECRET=%s\n", access)
	fmt.Printf("export GATEHOUSE_RENEWAL_SECRET=%s\n", renewal)
}

func generateSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
