package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/sabaka-pes/Album-Shop/core/types"
	"github.com/sabaka-pes/Album-Shop/crypto"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("SHOP_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	rpcEndpoint = defaultRPCEndpoint()
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		generateKey()
	case "balance":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		getBalance(args[1])
	case "register-album":
		if len(args) < 4 {
			fmt.Println("Usage: register-album <title> <price> <keyfile>")
			return
		}
		price, ok := new(big.Int).SetString(args[2], 10)
		if !ok {
			fmt.Println("Error: Invalid price.")
			return
		}
		registerAlbum(args[1], price, args[3])
	case "buy":
		if len(args) < 3 {
			fmt.Println("Usage: buy <index> <keyfile>")
			return
		}
		index, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid album index.")
			return
		}
		buyAlbum(index, args[2])
	case "deliver":
		if len(args) < 3 {
			fmt.Println("Usage: deliver <index> <keyfile>")
			return
		}
		index, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid album index.")
			return
		}
		triggerDelivery(index, args[2])
	case "album":
		if len(args) < 2 {
			fmt.Println("Usage: album <index>")
			return
		}
		index, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid album index.")
			return
		}
		showAlbum(index)
	case "catalog":
		showCatalog()
	case "predict-address":
		if len(args) < 2 {
			fmt.Println("Usage: predict-address <index>")
			return
		}
		index, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid album index.")
			return
		}
		predictAddress(index)
	case "transfer-ownership":
		if len(args) < 3 {
			fmt.Println("Usage: transfer-ownership <new-owner> <keyfile>")
			return
		}
		transferOwnership(args[1], args[2])
	case "events":
		showEvents()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8645"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}

	fileName := "wallet.key"
	if err := os.WriteFile(fileName, key.Bytes(), 0600); err != nil {
		panic(fmt.Sprintf("Failed to save key to %s: %v", fileName, err))
	}

	fmt.Printf("Generated new key and saved to %s\n", fileName)
	fmt.Printf("Your public address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Store this file securely.")
}

func getBalance(addr string) {
	account, err := fetchAccount(addr)
	if err != nil {
		fmt.Printf("Error fetching balance: %v\n", err)
		return
	}

	fmt.Printf("State for: %s\n", addr)
	fmt.Printf("  Balance: %s\n", account.Balance)
	fmt.Printf("  Nonce:   %d\n", account.Nonce)
}

func registerAlbum(title string, price *big.Int, keyFile string) {
	privKey, err := loadPrivateKey(keyFile)
	if err != nil {
		fmt.Printf("Error loading private key: %v\n", err)
		return
	}

	account, err := fetchAccount(privKey.PubKey().Address().String())
	if err != nil {
		fmt.Printf("Error fetching account details: %v\n", err)
		return
	}

	data, _ := json.Marshal(types.RegisterAlbumPayload{Title: title, Price: price})
	tx := types.Transaction{
		Type:  types.TxTypeRegisterAlbum,
		Nonce: account.Nonce,
		Data:  data,
	}
	tx.Sign(privKey.PrivateKey)

	if err := sendTransaction(&tx); err != nil {
		fmt.Printf("Error sending registration transaction: %v\n", err)
		return
	}

	fmt.Printf("Successfully registered album %q at price %s.\n", title, price)
}

func buyAlbum(index uint64, keyFile string) {
	privKey, err := loadPrivateKey(keyFile)
	if err != nil {
		fmt.Printf("Error loading private key: %v\n", err)
		return
	}

	album, err := fetchAlbum(index)
	if err != nil {
		fmt.Printf("Error fetching album: %v\n", err)
		return
	}
	price, ok := new(big.Int).SetString(album.Price, 10)
	if !ok {
		fmt.Printf("Error: node returned unparseable price %q\n", album.Price)
		return
	}
	escrowAddr, err := crypto.DecodeAddress(album.Escrow)
	if err != nil {
		fmt.Printf("Error decoding escrow address: %v\n", err)
		return
	}

	account, err := fetchAccount(privKey.PubKey().Address().String())
	if err != nil {
		fmt.Printf("Error fetching account details: %v\n", err)
		return
	}

	tx := types.Transaction{
		Type:  types.TxTypeTransfer,
		Nonce: account.Nonce,
		To:    escrowAddr.Bytes(),
		Value: price,
	}
	tx.Sign(privKey.PrivateKey)

	if err := sendTransaction(&tx); err != nil {
		fmt.Printf("Error sending payment: %v\n", err)
		return
	}

	fmt.Printf("Successfully purchased %q for %s.\n", album.Title, price)
}

func triggerDelivery(index uint64, keyFile string) {
	privKey, err := loadPrivateKey(keyFile)
	if err != nil {
		fmt.Printf("Error loading private key: %v\n", err)
		return
	}

	account, err := fetchAccount(privKey.PubKey().Address().String())
	if err != nil {
		fmt.Printf("Error fetching account details: %v\n", err)
		return
	}

	data, _ := json.Marshal(types.TriggerDeliveryPayload{Index: index})
	tx := types.Transaction{
		Type:  types.TxTypeTriggerDelivery,
		Nonce: account.Nonce,
		Data:  data,
	}
	tx.Sign(privKey.PrivateKey)

	if err := sendTransaction(&tx); err != nil {
		fmt.Printf("Error sending delivery transaction: %v\n", err)
		return
	}

	fmt.Printf("Successfully confirmed delivery of album %d.\n", index)
}

func transferOwnership(newOwner string, keyFile string) {
	privKey, err := loadPrivateKey(keyFile)
	if err != nil {
		fmt.Printf("Error loading private key: %v\n", err)
		return
	}
	decoded, err := crypto.DecodeAddress(newOwner)
	if err != nil {
		fmt.Printf("Error decoding new owner address: %v\n", err)
		return
	}

	account, err := fetchAccount(privKey.PubKey().Address().String())
	if err != nil {
		fmt.Printf("Error fetching account details: %v\n", err)
		return
	}

	data, _ := json.Marshal(types.TransferOwnershipPayload{NewOwner: decoded.Bytes()})
	tx := types.Transaction{
		Type:  types.TxTypeTransferOwnership,
		Nonce: account.Nonce,
		Data:  data,
	}
	tx.Sign(privKey.PrivateKey)

	if err := sendTransaction(&tx); err != nil {
		fmt.Printf("Error sending ownership transfer: %v\n", err)
		return
	}

	fmt.Printf("Successfully transferred catalog ownership to %s.\n", newOwner)
}

func showAlbum(index uint64) {
	album, err := fetchAlbum(index)
	if err != nil {
		fmt.Printf("Error fetching album: %v\n", err)
		return
	}
	fmt.Printf("Album %d:\n", index)
	fmt.Printf("  Title:  %s\n", album.Title)
	fmt.Printf("  Price:  %s\n", album.Price)
	fmt.Printf("  State:  %s\n", album.State)
	fmt.Printf("  Escrow: %s\n", album.Escrow)
}

func showCatalog() {
	result, err := callRPC("shop_getCatalog", nil, false)
	if err != nil {
		fmt.Printf("Error fetching catalog: %v\n", err)
		return
	}
	printJSONResult(result)
}

func predictAddress(index uint64) {
	result, err := callRPC("shop_predictEscrowAddress", map[string]uint64{"index": index}, false)
	if err != nil {
		fmt.Printf("Error predicting escrow address: %v\n", err)
		return
	}
	printJSONResult(result)
}

func showEvents() {
	result, err := callRPC("shop_getEvents", nil, false)
	if err != nil {
		fmt.Printf("Error fetching events: %v\n", err)
		return
	}
	printJSONResult(result)
}

type accountResponse struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	Balance string `json:"balance"`
}

type albumResponse struct {
	Index  uint64 `json:"index"`
	Title  string `json:"title"`
	Price  string `json:"price"`
	State  string `json:"state"`
	Escrow string `json:"escrow"`
}

func fetchAccount(addr string) (*accountResponse, error) {
	result, err := callRPC("shop_getAccount", map[string]string{"address": addr}, false)
	if err != nil {
		return nil, err
	}
	account := new(accountResponse)
	if err := json.Unmarshal(result, account); err != nil {
		return nil, fmt.Errorf("failed to decode account from node")
	}
	return account, nil
}

func fetchAlbum(index uint64) (*albumResponse, error) {
	result, err := callRPC("shop_getAlbum", map[string]uint64{"index": index}, false)
	if err != nil {
		return nil, err
	}
	album := new(albumResponse)
	if err := json.Unmarshal(result, album); err != nil {
		return nil, fmt.Errorf("failed to decode album from node")
	}
	return album, nil
}

func sendTransaction(tx *types.Transaction) error {
	_, err := callRPC("shop_sendTransaction", tx, true)
	return err
}

func callRPC(method string, param interface{}, requireAuth bool) (json.RawMessage, error) {
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if param != nil {
		payload["params"] = []interface{}{param}
	} else {
		payload["params"] = []interface{}{}
	}
	body, _ := json.Marshal(payload)
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response from node")
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("error from node: %s", rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if requireAuth && strings.TrimSpace(rpcAuthToken) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

func loadPrivateKey(path string) (*crypto.PrivateKey, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("private key file %s not found. run ./shop-cli generate-key first", path)
		}
		return nil, fmt.Errorf("failed to read private key file %s: %w", path, err)
	}
	if len(keyBytes) == 0 {
		return nil, fmt.Errorf("private key file %s is empty. run ./shop-cli generate-key first", path)
	}
	// Key files are raw bytes from generate-key or hex text from the node's
	// admin key bootstrap; accept both.
	if decoded, err := hex.DecodeString(strings.TrimSpace(string(keyBytes))); err == nil {
		keyBytes = decoded
	}
	privKey, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key in %s: %w", path, err)
	}
	return privKey, nil
}

func printJSONResult(result json.RawMessage) {
	if len(result) == 0 {
		fmt.Println("No result.")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(buf.String())
}

func printUsage() {
	fmt.Println("Usage: shop-cli [--rpc <url>] <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  generate-key                                Generate a new wallet key")
	fmt.Println("  balance <address>                           Show balance and nonce for an address")
	fmt.Println("  register-album <title> <price> <keyfile>    Register a new album (administrator only)")
	fmt.Println("  buy <index> <keyfile>                       Pay the exact price for an album")
	fmt.Println("  deliver <index> <keyfile>                   Confirm delivery (administrator only)")
	fmt.Println("  album <index>                               Show one album record")
	fmt.Println("  catalog                                     Show catalog address, owner and album count")
	fmt.Println("  predict-address <index>                     Predict the escrow address for an index")
	fmt.Println("  transfer-ownership <new-owner> <keyfile>    Hand the administrator role to another address")
	fmt.Println("  events                                      Show the full event history")
}
