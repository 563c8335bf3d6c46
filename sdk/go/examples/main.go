package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"Mopro-Bridge/internal/bridge"
	"Mopro-Bridge/internal/proofs/prooftest"
	"Mopro-Bridge/internal/transport/httpapi"
	"Mopro-Bridge/sdk/go/mopro"
)

func main() {
	pool := bridge.NewPool(2, 8)
	defer pool.Close()
	dispatcher := bridge.NewDispatcher(&prooftest.Engine{}, bridge.StaticPlatform{Name: "Linux demo", Dir: "/tmp"})
	api := httpapi.NewServer("", bridge.New(dispatcher, pool, nil))

	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	client, err := mopro.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	version, err := client.GetPlatformVersion(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("platform: %s\n", version)

	key, err := client.GenerateEphemeralKey(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("ephemeral key: %s\n", key)

	proof, err := client.ProveJwt(ctx, mopro.ProveJwtRequest{
		SrsPath: "/srs", EphemeralPublicKey: key, EphemeralSalt: "salt", EphemeralExpiry: "2030-01-01",
		TokenID: "demo", JWT: "header.payload.signature", Domain: "example.com",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("proof: %x\n", proof.Proof)

	verified, err := client.VerifyJwtProof(ctx, mopro.VerifyJwtProofRequest{
		SrsPath: "/srs", Proof: proof.Proof, Domain: "example.com",
		GoogleJwtPubkeyModulus: "modulus", EphemeralPubkey: key, EphemeralPubkeyExpiry: "2030-01-01",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("proof valid: %v\n", verified.IsValid)
}
