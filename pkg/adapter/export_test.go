package adapter

var NewGeminiWithModels = newGemini
