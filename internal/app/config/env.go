package config

import (
	"fmt"
	"os"
	"strconv"
)

// getEnvOrDefault возвращает значение из переменной среды окружения,
// если такая задана или значение по умолчанию.
func getEnvOrDefault(key string, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if ok {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault то же, что getEnvOrDefault, но для целых чисел
func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return n, nil
}
